// cmd/discover/main.go lists the servers and lobbies on the local network.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"sync"
	"text/tabwriter"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/multibomb/arena/internal/config"
	"github.com/multibomb/arena/internal/discovery"
	"github.com/multibomb/arena/internal/protocol"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type result struct {
	server discovery.Server
	info   *protocol.LobbyInfo
	err    error
}

func main() {
	logger := logrus.New()
	cfg := config.Load(logger)
	logger.SetLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	servers, err := discovery.Search(ctx, cfg.DiscoveryPort, discovery.DefaultWait)
	if err != nil {
		logger.WithError(err).Fatal("discovery failed")
	}
	if len(servers) == 0 {
		fmt.Println("no servers found")
		return
	}

	client := &http.Client{Timeout: 3 * time.Second}
	var mu sync.Mutex
	results := make([]result, 0, len(servers))
	var g errgroup.Group
	for _, s := range servers {
		g.Go(func() error {
			info, err := discovery.QueryLobbies(ctx, client, s.Addr, cfg.HTTPPort)
			mu.Lock()
			results = append(results, result{server: s, info: info, err: err})
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	sort.Slice(results, func(i, j int) bool { return results[i].server.Addr < results[j].server.Addr })

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SERVER\tADDRESS\tLOBBY\tPLAYERS\tMODE\tSTATUS")
	for _, r := range results {
		if r.err != nil {
			logger.WithError(r.err).WithField("remote", r.server.Addr).Warn("directory query failed")
			continue
		}
		names := make([]string, 0, len(r.info.Lobbies))
		for name := range r.info.Lobbies {
			names = append(names, name)
		}
		sort.Strings(names)
		if len(names) == 0 {
			fmt.Fprintf(w, "%s\t%s\t-\t\t\t\n", r.server.Name, r.server.Addr)
		}
		for _, name := range names {
			l := r.info.Lobbies[name]
			fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\t%s\n", r.server.Name, r.server.Addr, name, l.Players, protocol.MaxPlayers, l.GameMode, l.Status)
		}
	}
	w.Flush()
}
