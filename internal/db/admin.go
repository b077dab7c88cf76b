package db

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/banshee-data/rover/internal/httputil"
	"github.com/banshee-data/rover/internal/monitoring"
	"github.com/banshee-data/rover/internal/security"
)

const defaultChartPoints = 500

// AttachAdminRoutes mounts the journal's debug pages under /debug/.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://rover.db", db.DB, &tailsql.DBOptions{
		Label: "Rover journal",
	})

	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())
	debug.Handle("backup", "Create and download a backup of the journal now", http.HandlerFunc(db.handleBackup))
	debug.Handle("throttle-chart", "Recent motor throttles per wheel", http.HandlerFunc(db.handleThrottleChart))
	return nil
}

func (db *DB) handleBackup(w http.ResponseWriter, r *http.Request) {
	dir := os.TempDir()
	backupName := fmt.Sprintf("rover-backup-%d.db", time.Now().UnixNano())
	backupPath := filepath.Join(dir, backupName)
	if err := security.ValidatePathWithinDirectory(backupPath, dir); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("invalid backup path: %v", err))
		return
	}

	if _, err := db.Exec("VACUUM INTO ?", backupPath); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to create backup: %v", err))
		return
	}
	defer func() {
		if err := os.Remove(backupPath); err != nil {
			monitoring.Logf("Failed to remove backup file: %v", err)
		}
	}()

	backupFile, err := os.Open(backupPath)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to open backup file: %v", err))
		return
	}
	defer backupFile.Close()

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.gz", backupName))
	w.Header().Set("Content-Type", "application/gzip")

	gzipWriter := gzip.NewWriter(w)
	defer gzipWriter.Close()
	if _, err := io.Copy(gzipWriter, backupFile); err != nil {
		monitoring.Logf("Failed to stream backup: %v", err)
	}
}

func (db *DB) handleThrottleChart(w http.ResponseWriter, r *http.Request) {
	limit := defaultChartPoints
	if v := r.URL.Query().Get("points"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			httputil.BadRequest(w, "points must be a positive integer")
			return
		}
		limit = n
	}

	commands, err := db.RecentCommands(limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("query error: %v", err))
		return
	}

	// oldest first along the x axis
	x := make([]string, len(commands))
	var series [4][]opts.LineData
	for i := range commands {
		c := commands[len(commands)-1-i]
		x[i] = c.At.Format("15:04:05.000")
		for m := range series {
			series[m] = append(series[m], opts.LineData{Value: c.Command[m], Name: c.Action})
		}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Rover Throttles", Width: "100%", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Motor throttles", Subtitle: fmt.Sprintf("last %d commands", len(commands))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Min: -1, Max: 1, Name: "throttle"}),
	)
	line.SetXAxis(x)
	for m := range series {
		line.AddSeries(fmt.Sprintf("motor %d", m+1), series[m])
	}

	page := components.NewPage()
	page.AddCharts(line)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render error: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
