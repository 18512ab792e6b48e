package domain

import (
	"encoding/xml"
	"fmt"
)

// cotTimeLayout is the ISO-8601-with-milliseconds UTC form TAK servers expect.
const cotTimeLayout = "2006-01-02T15:04:05.000Z"

// noValue is the CoT sentinel for unknown altitude and accuracy.
const noValue = "9999999.0"

type cotPoint struct {
	Lat float64 `xml:"lat,attr"`
	Lon float64 `xml:"lon,attr"`
	Hae string  `xml:"hae,attr"`
	Ce  string  `xml:"ce,attr"`
	Le  string  `xml:"le,attr"`
}

type cotContact struct {
	Callsign string `xml:"callsign,attr"`
}

type cotLink struct {
	URL string `xml:"url,attr"`
}

type cotDetail struct {
	Contact cotContact `xml:"contact"`
	Link    cotLink    `xml:"link"`
	Remarks string     `xml:"remarks"`
}

type cotEvent struct {
	XMLName xml.Name  `xml:"event"`
	Version string    `xml:"version,attr"`
	UID     string    `xml:"uid,attr"`
	Type    string    `xml:"type,attr"`
	Time    string    `xml:"time,attr"`
	Start   string    `xml:"start,attr"`
	Stale   string    `xml:"stale,attr"`
	How     string    `xml:"how,attr"`
	Point   cotPoint  `xml:"point"`
	Detail  cotDetail `xml:"detail"`
}

// MarshalCoT renders a CanonicalEvent as one CoT XML document, newline
// terminated. encoding/xml escapes attribute values and character data, so
// free text from the feeds cannot break the document structure.
func MarshalCoT(ev CanonicalEvent) ([]byte, error) {
	doc := cotEvent{
		Version: "2.0",
		UID:     ev.Identity,
		Type:    "b-e-i", // incident
		Time:    ev.IssuedAt.UTC().Format(cotTimeLayout),
		Start:   ev.IssuedAt.UTC().Format(cotTimeLayout),
		Stale:   ev.ExpiresAt.UTC().Format(cotTimeLayout),
		How:     "m-g", // machine-generated
		Point: cotPoint{
			Lat: ev.Lat,
			Lon: ev.Lon,
			Hae: noValue,
			Ce:  noValue,
			Le:  noValue,
		},
		Detail: cotDetail{
			Contact: cotContact{Callsign: ev.Label},
			Link:    cotLink{URL: ev.SourceLink},
			Remarks: ev.Detail,
		},
	}

	out, err := xml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal cot event %s: %w", ev.Identity, err)
	}
	return append(out, '\n'), nil
}
