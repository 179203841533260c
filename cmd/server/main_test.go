package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"hls-relay/internal/platform/config"
	"hls-relay/internal/upstream"
)

func TestProbe(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/live/master.m3u8", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=2000000\nhi/index.m3u8\n")
	})
	mux.HandleFunc("/live/hi/index.m3u8", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "#EXTM3U\n#EXT-X-TARGETDURATION:4\n#EXT-X-MEDIA-SEQUENCE:5\n#EXTINF:4,\nseg5.ts\n")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := upstream.NewClient(upstream.Options{}, nil)
	defer client.CloseIdleConnections()

	var out bytes.Buffer
	if err := probe(context.Background(), &out, client, srv.URL+"/live/master.m3u8", false, nil); err != nil {
		t.Fatalf("probe: %v", err)
	}
	if !strings.Contains(out.String(), "#EXT-X-MEDIA-SEQUENCE:5\n") || !strings.HasSuffix(out.String(), "seg5.ts\n") {
		t.Errorf("output = %q", out.String())
	}

	out.Reset()
	if err := probe(context.Background(), &out, client, srv.URL+"/live/master.m3u8", true, nil); err != nil {
		t.Fatalf("probe --records: %v", err)
	}
	if want := "0\tseq=5\tdur=4\tseg5.ts\n"; !strings.Contains(out.String(), want) {
		t.Errorf("records output = %q, want line %q", out.String(), want)
	}

	if err := probe(context.Background(), &out, client, srv.URL+"/missing.m3u8", false, nil); err == nil {
		t.Error("expected an error for a missing manifest")
	}
}

func TestRelayConfig(t *testing.T) {
	cfg := config.Config{
		RelayAddr:         "127.0.0.1:3000",
		RelayQueueSize:    8,
		RelayWriteTimeout: 2 * time.Second,
		RelayDefaultPoll:  3 * time.Second,
	}
	rc := relayConfig(cfg)
	if rc.Addr != cfg.RelayAddr || rc.QueueSize != 8 || rc.WriteTimeout != 2*time.Second || rc.DefaultPollInterval != 3*time.Second {
		t.Errorf("relayConfig = %+v", rc)
	}
}

func TestRootCmd(t *testing.T) {
	root := newRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	if got := strings.Join(names, ","); got != "probe,serve" {
		t.Errorf("subcommands = %s", got)
	}

	root.SetArgs([]string{"probe"})
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	if err := root.Execute(); err == nil {
		t.Error("probe without a url should fail argument validation")
	}
}
