package main

import (
	"flag"
	"net/http"

	"github.com/danmuck/dps_blobs/cmd/internal/logcfg"
	"github.com/danmuck/dps_blobs/src/transport/relay"
	logs "github.com/danmuck/smplog"
)

func main() {
	logs.Configure(logcfg.Load())

	addr := flag.String("addr", ":8180", "HTTP listen address")
	flag.Parse()

	mux := http.NewServeMux()
	mux.Handle("/ws", relay.NewServer())

	logs.Infof("relay listening on %s", *addr)
	if err := http.ListenAndServe(*addr, mux); err != nil {
		logs.Fatalf(err, "relay exited")
	}
}
