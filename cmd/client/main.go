package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/danmuck/dps_blobs/cmd/internal/logcfg"
	"github.com/danmuck/dps_blobs/src/client"
	"github.com/danmuck/dps_blobs/src/config"
	"github.com/danmuck/dps_blobs/src/transport/relay"
	logs "github.com/danmuck/smplog"
)

const discoverWindow = 3 * time.Second

func main() {
	logs.Configure(logcfg.Load())

	relayURL := flag.String("relay", "ws://localhost:8180/ws", "relay websocket URL")
	serverID := flag.String("server", "", "server identity (discovered if empty)")
	storePath := flag.String("store", "", "path of a file to store")
	getHash := flag.String("get", "", "content hash to retrieve")
	output := flag.String("o", "", "output path for -get (defaults to stdout)")
	deleteHash := flag.String("delete", "", "content hash to delete")
	discover := flag.Bool("discover", false, "list available servers")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus, err := relay.Dial(ctx, *relayURL)
	if err != nil {
		logs.Fatalf(err, "failed to connect to relay")
	}
	defer bus.Close()

	c := client.New(bus, config.Default())

	switch {
	case *discover:
		servers, err := c.Discover(ctx, discoverWindow)
		if err != nil {
			logs.Fatalf(err, "discovery failed")
		}
		for _, s := range servers {
			fmt.Printf("%s  %s (max %d bytes, chunk %d, retention %ds)\n",
				s.Identity, s.Name, s.MaxFileSize, s.ChunkSize, s.RetentionSecs)
		}
		if len(servers) == 0 {
			logs.Warnf("no servers announced within %s", discoverWindow)
		}

	case *storePath != "":
		data, err := os.ReadFile(*storePath)
		if err != nil {
			logs.Fatalf(err, "failed to read %s", *storePath)
		}
		resp, err := c.Store(ctx, pickServer(ctx, c, *serverID), data, filepath.Base(*storePath))
		if err != nil {
			logs.Fatalf(err, "store failed")
		}
		fmt.Printf("stored %s: %d bytes, %d chunks, expires %s\n",
			resp.Hash, resp.Size, resp.ChunkCount, time.Unix(resp.ExpiresAt, 0))

	case *getHash != "":
		data, err := c.Retrieve(ctx, pickServer(ctx, c, *serverID), *getHash)
		if err != nil {
			logs.Fatalf(err, "retrieve failed")
		}
		if *output == "" {
			os.Stdout.Write(data)
			return
		}
		if err := os.WriteFile(*output, data, 0644); err != nil {
			logs.Fatalf(err, "failed to write %s", *output)
		}
		logs.Infof("wrote %d bytes to %s", len(data), *output)

	case *deleteHash != "":
		if err := c.Delete(ctx, pickServer(ctx, c, *serverID), *deleteHash); err != nil {
			logs.Fatalf(err, "delete failed")
		}
		logs.Infof("deleted %s", *deleteHash)

	default:
		flag.Usage()
		os.Exit(2)
	}
}

// pickServer returns the explicit server identity, or discovers one.
func pickServer(ctx context.Context, c *client.Client, explicit string) string {
	if explicit != "" {
		return explicit
	}
	servers, err := c.Discover(ctx, discoverWindow)
	if err != nil || len(servers) == 0 {
		logs.Fatalf(err, "no blob servers found")
	}
	return servers[0].Identity
}
