package exchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestBinanceKlinesFetch(t *testing.T) {
	const body = `[
		[1700000000000,"100.0","101.0","99.0","100.5","12.5",1700000059999,"1250.0",10,"6.0","600.0","0"],
		[1700000060000,"100.5","102.0","100.0","101.5","8.0",1700000119999,"812.0",7,"4.0","406.0","0"]
	]`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v3/klines":
			if r.URL.Query().Get("symbol") != "BTCUSDT" || r.URL.Query().Get("interval") != "1m" {
				t.Errorf("unexpected query %s", r.URL.RawQuery)
			}
			_, _ = w.Write([]byte(body))
		case "/api/v3/ping":
			_, _ = w.Write([]byte(`{}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	src := NewBinanceKlines("", "", server.URL, "1m", 2)
	snap, err := src.Fetch(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if snap.Len() != 2 || snap.LastClose() != 101.5 {
		t.Fatalf("unexpected snapshot closes %v", snap.Closes())
	}
	last, _ := snap.Last()
	if last.High != 102 || last.Volume != 8 {
		t.Fatalf("unexpected candle %+v", last)
	}
	if _, err := src.Check(context.Background()); err != nil {
		t.Fatalf("Check returned error: %v", err)
	}
}
