package tak_test

import (
	"bufio"
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/incident-feed-relay/internal/adapter/tak"
)

func TestNewDialer_SchemeValidation(t *testing.T) {
	cases := []struct {
		name     string
		endpoint string
		wantErr  string
	}{
		{"tcp ok", "tcp://takserver:8087", ""},
		{"http rejected", "http://takserver:8087", "scheme must be tcp or tls"},
		{"missing port", "tcp://takserver", "must include host and port"},
		{"bare host", "takserver:8087", "must include host and port"},
		{"tls without certs", "tls://takserver:8089", "requires a client certificate"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tak.NewDialer(tc.endpoint, "", "", "")
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestDialer_TCPDial(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	received := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		line, _ := bufio.NewReader(conn).ReadString('\n')
		received <- line
	}()

	d, err := tak.NewDialer("tcp://"+ln.Addr().String(), "", "", "")
	require.NoError(t, err)
	assert.Equal(t, ln.Addr().String(), d.Address())

	conn, err := d.Dial(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("<event/>\n"))
	require.NoError(t, err)
	assert.Equal(t, "<event/>\n", <-received)
}
