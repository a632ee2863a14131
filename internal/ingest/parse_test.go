package ingest

import (
	"strings"
	"testing"
	"time"

	"arraymon/internal/types"
)

func meanXML(entries ...string) []byte {
	return []byte(`<?xml version="1.0" encoding="ISO-8859-1"?>
<WebBox><MeanPublicList>` + strings.Join(entries, "") + `</MeanPublicList></WebBox>`)
}

func entry(key, mean, ts string) string {
	return `<MeanPublic><Key>` + key + `</Key><First>0</First><Mean>` + mean +
		`</Mean><Base>1</Base><Period>300</Period><TimeStamp>` + ts + `</TimeStamp></MeanPublic>`
}

func TestParseDocument(t *testing.T) {
	doc := meanXML(
		entry("WR21TL06:2001234567:Pac", "1234.5", "2024-06-02T23:55:00"),
		entry("WR21TL06:2001234567:Riso", "8.2", "2024/06/02 23:55:00"),
		entry("WR21TL06:2001234567:Something New", "1", "2024-06-02 23:55:00"),
	)

	got, err := ParseDocument(doc)
	if err != nil {
		t.Fatalf("ParseDocument() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}

	want := time.Date(2024, 6, 2, 23, 55, 0, 0, time.Local)
	for i, ev := range got {
		if ev.SerialNumber != 2001234567 {
			t.Errorf("got[%d].SerialNumber = %d", i, ev.SerialNumber)
		}
		if !ev.Time.Equal(want) {
			t.Errorf("got[%d].Time = %v, want %v", i, ev.Time, want)
		}
		if ev.Base != 1 || ev.Period != 300 {
			t.Errorf("got[%d] base/period = %d/%d", i, ev.Base, ev.Period)
		}
	}
	if got[0].Metric != "Pac" || got[0].Mean != 1234.5 || got[0].Unit != "W" {
		t.Errorf("got[0] = %+v", got[0])
	}
	if got[1].Unit != "kOhm" {
		t.Errorf("Riso unit = %q, want kOhm", got[1].Unit)
	}
	if got[2].Metric != "Something New" || got[2].Unit != "" {
		t.Errorf("unknown metric = %+v, want empty unit", got[2])
	}
}

func TestParseDocument_ZonedTimestampIsLocal(t *testing.T) {
	got, err := ParseDocument(meanXML(
		entry("WR21TL06:1:Pac", "1", "2024-06-02T10:00:00+02:00"),
		entry("WR21TL06:1:Vac", "230", "2024-06-02T08:00:00Z"),
	))
	if err != nil {
		t.Fatalf("ParseDocument() error = %v", err)
	}
	want := time.Date(2024, 6, 2, 8, 0, 0, 0, time.UTC)
	for i, ev := range got {
		if ev.Time.Location() != time.Local {
			t.Errorf("got[%d].Time zone = %v, want Local", i, ev.Time.Location())
		}
		if !ev.Time.Equal(want) {
			t.Errorf("got[%d].Time = %v, want %v", i, ev.Time, want)
		}
	}
	if a, b := got[0].Time.Format(types.RecordTimeLayout), got[1].Time.Format(types.RecordTimeLayout); a != b {
		t.Errorf("same instant formats differently: %s vs %s", a, b)
	}
}

func TestParseDocument_Empty(t *testing.T) {
	got, err := ParseDocument(meanXML())
	if err != nil {
		t.Fatalf("ParseDocument() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("len = %d, want 0", len(got))
	}
}

func TestParseDocument_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  []byte
	}{
		{name: "short key", doc: meanXML(entry("WR21TL06:Pac", "1", "2024-06-02T23:55:00"))},
		{name: "non numeric serial", doc: meanXML(entry("WR21TL06:abc:Pac", "1", "2024-06-02T23:55:00"))},
		{name: "bad mean", doc: meanXML(entry("WR21TL06:1:Pac", "n/a", "2024-06-02T23:55:00"))},
		{name: "bad timestamp", doc: meanXML(entry("WR21TL06:1:Pac", "1", "yesterday"))},
		{name: "one bad entry fails all", doc: meanXML(
			entry("WR21TL06:1:Pac", "1", "2024-06-02T23:55:00"),
			entry("WR21TL06:1:Pac", "", "2024-06-02T23:55:00"),
		)},
		{name: "truncated xml", doc: []byte(`<WebBox><MeanPublic><Key>a:1:Pac</Key>`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseDocument(tt.doc); err == nil {
				t.Fatal("ParseDocument() error = nil, want error")
			}
		})
	}
}

func TestIsContainer(t *testing.T) {
	for name, want := range map[string]bool{
		"Mean.20240602_235500.zip":     true,
		"sub/Mean.20240602_235500.zip": true,
		"Log.20240602_235500.zip":      false,
		"Mean.20240602_235500.xml":     false,
	} {
		if got := isContainer(name); got != want {
			t.Errorf("isContainer(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestMerge_DenylistAndOrder(t *testing.T) {
	all, published := merge([][]types.TelemetryEvent{
		{{Metric: "Pac"}, {Metric: "Mode"}},
		{{Metric: "Vpv"}, {Metric: "Temperature"}, {Metric: "E-Total"}},
	})
	if len(all) != 5 {
		t.Fatalf("all = %d, want 5", len(all))
	}
	var names []string
	for _, ev := range published {
		names = append(names, ev.Metric)
	}
	if got := strings.Join(names, ","); got != "Pac,Vpv,E-Total" {
		t.Errorf("published = %s, want Pac,Vpv,E-Total", got)
	}
}
