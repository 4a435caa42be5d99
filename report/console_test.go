package report

import (
	"bytes"
	"testing"

	"github.com/calvincs/ODL-Live/models"
	"github.com/calvincs/ODL-Live/stats"
)

func TestConsoleSinkFormat(t *testing.T) {
	var buf bytes.Buffer
	sink := &ConsoleSink{out: &buf}

	det := models.ODLDetection{Quantity: 5000, USDValue: 2051, DetectedAt: 1554756870}
	sink.Notify(det, "bitstamp", "bitso", stats.Totals{Count: 3, TotalXRP: 15000.5, TotalUSD: 6153.31})

	want := "2019-04-08 20:54:30 ODL bitstamp -> bitso: 5000.0000 XRP ($2051.00) | 24h: 3 transfers, 15000.5000 XRP, $6153.31\n"
	if buf.String() != want {
		t.Errorf("console line:\n got %q\nwant %q", buf.String(), want)
	}
}
