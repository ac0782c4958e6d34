package main

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/proxyvet/proxyvet/internal/assertion"
	"github.com/proxyvet/proxyvet/internal/ingest"
	"github.com/proxyvet/proxyvet/internal/manager"
	"github.com/proxyvet/proxyvet/internal/probe"
	"github.com/proxyvet/proxyvet/internal/store"
	"github.com/proxyvet/proxyvet/internal/worker"
)

var (
	flagCheckChecksFile  string
	flagCheckWorkers     int
	flagCheckMaxInFlight int
)

var checkCmd = &cobra.Command{
	Use:   "check <proxy-list-file>",
	Short: "Check a proxy list once and print the alive ones",
	Long: `check reads a proxy list file (one [scheme://]host:port per line, #
starts a comment), probes every proxy against the check bundle once, and
prints the alive proxies sorted by mean probe time.`,
	Args: cobra.ExactArgs(1),
	RunE: runCheck,
}

func init() {
	f := checkCmd.Flags()
	f.StringVarP(&flagCheckChecksFile, "checks", "c", "", "YAML check bundle to probe against (required)")
	_ = checkCmd.MarkFlagRequired("checks")
	f.IntVar(&flagCheckWorkers, "workers", 5, "Worker count")
	f.IntVar(&flagCheckMaxInFlight, "max-in-flight", 50, "Concurrent probes per worker")
}

func runCheck(_ *cobra.Command, args []string) error {
	candidates, err := readProxyList(args[0])
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		return fmt.Errorf("%s: no proxies to check", args[0])
	}

	bundle, err := ingest.LoadChecksFile(flagCheckChecksFile)
	if err != nil {
		return err
	}

	// The batch run is self-contained: a throwaway registry that vanishes
	// with the temp dir.
	tmpDir, err := os.MkdirTemp("", "proxyvet-check-*")
	if err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	st, err := store.Open(filepath.Join(tmpDir, "check.db"))
	if err != nil {
		return err
	}
	defer st.Close()

	defaults, err := ingest.EnsureChecks(st, bundle)
	if err != nil {
		return err
	}

	start := time.Now()

	ingestor := ingest.New(st, nil, defaults)
	var expected int64
	for _, candidate := range candidates {
		added, err := ingestor.Add(candidate, 0)
		if err != nil {
			log.Printf("[check] skip %s: %v", candidate, err)
			continue
		}
		expected += int64(len(added) * len(defaults))
	}
	if expected == 0 {
		return fmt.Errorf("no valid proxies in %s", args[0])
	}

	prober := probe.New(assertion.Policy{})
	workers := make([]*worker.Worker, 0, flagCheckWorkers)
	for i := 0; i < flagCheckWorkers; i++ {
		w := worker.New(worker.Config{
			Store:       st,
			Prober:      prober,
			MaxInFlight: flagCheckMaxInFlight,
		})
		w.Start()
		workers = append(workers, w)
	}

	mgr := manager.New(manager.Config{
		Store:        st,
		Workers:      workers,
		TickInterval: 100 * time.Millisecond,
	})
	mgr.Start()

	// Every proxy is one-shot: once all expected results land the run is
	// complete. A worker dying early would stall the count, so watch for
	// stopped workers too.
	for processedTotal(workers) < expected && runningWorkers(workers) > 0 {
		time.Sleep(100 * time.Millisecond)
	}

	mgr.Stop()
	mgr.WaitStop()
	for _, w := range workers {
		w.Stop()
	}
	for _, w := range workers {
		if err := w.WaitStop(); err != nil {
			log.Printf("[check] worker stopped with error: %v", err)
		}
	}
	elapsed := time.Since(start)

	rows, err := st.ListProxies(true)
	if err != nil {
		return err
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].MeanTimeSec < rows[j].MeanTimeSec })

	for _, row := range rows {
		line := fmt.Sprintf("%s\t%.3fs", row.URL(), row.MeanTimeSec)
		if len(row.BannedNetloc) > 0 {
			line += "\tbanned at " + strings.Join(row.BannedNetloc, ", ")
		}
		fmt.Println(line)
	}

	all, err := st.AllProxies()
	if err != nil {
		return err
	}
	perSec := float64(len(all)) / elapsed.Seconds()
	fmt.Printf("\n%d/%d alive, %.1fs elapsed, %.1f proxies/s\n",
		len(rows), len(all), elapsed.Seconds(), perSec)
	return nil
}

func processedTotal(workers []*worker.Worker) int64 {
	var total int64
	for _, w := range workers {
		total += w.Processed()
	}
	return total
}

func runningWorkers(workers []*worker.Worker) int {
	n := 0
	for _, w := range workers {
		if w.State() == worker.StateRunning {
			n++
		}
	}
	return n
}

// readProxyList parses the batch input file: one candidate per line, blank
// lines and # comments ignored.
func readProxyList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read proxy list: %w", err)
	}
	defer f.Close()

	var out []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if i := strings.Index(line, "#"); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read proxy list: %w", err)
	}
	return out, nil
}
