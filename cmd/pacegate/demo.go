package main

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pacegate/pacegate/api"
	"github.com/pacegate/pacegate/pkg/pacegate"
	"github.com/pacegate/pacegate/transport"
)

func newDemoCommand() *cobra.Command {
	var (
		workers  int
		requests int
		overload bool
		verbose  bool
	)

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Drive paced load against an in-process mock exchange",
		Long: `Starts a loopback mock exchange that enforces its own rate limits
and answers 429 on overage, then runs concurrent workers through the
limiter against it. With --overload the mock enforces tighter limits
than advertised so the adaptive throttle has something to do.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runDemo(cfg, workers, requests, overload, verbose)
		},
	}

	cmd.Flags().IntVar(&workers, "workers", 8, "concurrent workers")
	cmd.Flags().IntVar(&requests, "requests", 40, "requests per worker")
	cmd.Flags().BoolVar(&overload, "overload", false, "make the mock exchange stricter than advertised")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "log limiter diagnostics")
	return cmd
}

func runDemo(cfg *pacegate.Config, workers, requests int, overload, verbose bool) error {
	log := zap.NewNop()
	if verbose {
		var err error
		log, err = zap.NewDevelopment()
		if err != nil {
			return err
		}
	}

	limiter, err := pacegate.New(
		pacegate.WithConfig(cfg),
		pacegate.WithLogger(log),
	)
	if err != nil {
		return err
	}
	defer limiter.Close()

	exchange := newMockExchange(cfg, overload)
	mux := http.NewServeMux()
	exchange.register(mux)
	mux.Handle("/debug/ratelimit", api.NewStatusHandler(limiter))

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return err
	}
	server := &http.Server{Handler: mux}
	go server.Serve(listener)
	defer server.Close()

	resolver, err := transport.NewPrefixResolver([]transport.Rule{
		{Method: http.MethodGet, Prefix: "/v1/ticker", Group: pacegate.GroupPublicRead},
		{Method: http.MethodPost, Prefix: "/v1/orders", Group: pacegate.GroupPrivateOrder},
	}, pacegate.GroupPrivateDefault)
	if err != nil {
		return err
	}

	client := &http.Client{
		Transport: transport.NewPacedTransport(limiter, resolver, transport.WithLogger(log)),
		Timeout:   30 * time.Second,
	}
	baseURL := "http://" + listener.Addr().String()

	var ok, limited, timedOut, failed atomic.Int64
	start := time.Now()

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for i := 0; i < requests; i++ {
				var resp *http.Response
				var err error
				if (worker+i)%2 == 0 {
					resp, err = client.Get(baseURL + "/v1/ticker?market=KRW-BTC")
				} else {
					resp, err = client.Post(baseURL+"/v1/orders", "application/json", nil)
				}
				switch {
				case err != nil && errors.Is(err, pacegate.ErrAcquireTimeout):
					timedOut.Add(1)
				case err != nil:
					failed.Add(1)
				case resp.StatusCode == http.StatusTooManyRequests:
					limited.Add(1)
					resp.Body.Close()
				default:
					ok.Add(1)
					resp.Body.Close()
				}
			}
		}(w)
	}
	wg.Wait()
	elapsed := time.Since(start)

	total := int64(workers * requests)
	summary := table.NewWriter()
	summary.SetOutputMirror(os.Stdout)
	summary.AppendHeader(table.Row{"Total", "OK", "429", "Timeouts", "Errors", "Elapsed", "Realized RPS"})
	summary.AppendRow(table.Row{
		total, ok.Load(), limited.Load(), timedOut.Load(), failed.Load(),
		elapsed.Round(time.Millisecond).String(),
		fmt.Sprintf("%.1f", float64(total)/elapsed.Seconds()),
	})
	summary.Render()

	status := table.NewWriter()
	status.SetOutputMirror(os.Stdout)
	status.AppendHeader(table.Row{"Group", "Ratio", "Window", "Queue", "Health", "Violations", "Avg Wait"})
	snapshot := limiter.Status()
	for _, group := range pacegate.Groups() {
		st, found := snapshot[group]
		if !found {
			continue
		}
		status.AppendRow(table.Row{
			string(group),
			fmt.Sprintf("%.2f", st.CurrentRatio),
			strconv.Itoa(st.BurstWindowOccupancy) + "/" + strconv.Itoa(st.BurstWindowCapacity),
			st.QueueDepth,
			string(st.NotifierHealth),
			st.ViolationCount,
			st.Waits.AverageWait().Round(time.Millisecond).String(),
		})
	}
	status.Render()

	fmt.Println("status endpoint was served at", baseURL+"/debug/ratelimit")
	return nil
}
