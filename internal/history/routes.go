package history

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"tailscale.com/tsweb"

	"github.com/banshee-data/siphog/internal/httputil"
)

// AttachAdminRoutes serves the buffer under /debug/: a CSV download, per
// channel statistics as JSON, and an HTML line chart.
func (b *Buffer) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("history.csv", "download recent telemetry as CSV", func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		if err := b.WriteCSV(&buf); err != nil {
			if errors.Is(err, ErrEmpty) {
				httputil.WriteError(w, http.StatusNotFound, "no samples recorded yet")
				return
			}
			httputil.WriteError(w, http.StatusInternalServerError, "failed to write CSV")
			return
		}
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="siphog_history.csv"`)
		w.Write(buf.Bytes())
	})

	debug.HandleFunc("history-stats", "min/max/mean/latest per channel", func(w http.ResponseWriter, r *http.Request) {
		stats := b.AllStats()
		out := make(map[string]Stats, len(stats))
		for c, s := range stats {
			out[c.String()] = sanitizeStats(s)
		}
		httputil.WriteJSONOK(w, out)
	})

	debug.HandleFunc("history-chart", "line chart of recent telemetry", b.handleChart)
}

// sanitizeStats replaces non-finite values, which JSON cannot carry.
func sanitizeStats(s Stats) Stats {
	fix := func(v float64) float64 {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0
		}
		return v
	}
	return Stats{Min: fix(s.Min), Max: fix(s.Max), Mean: fix(s.Mean), Latest: fix(s.Latest), Count: s.Count}
}

// handleChart renders the buffer with go-echarts. Repeated ?channel= query
// parameters select the series; ?window= limits the span in seconds.
func (b *Buffer) handleChart(w http.ResponseWriter, r *http.Request) {
	channels := DefaultPlotChannels
	if names := r.URL.Query()["channel"]; len(names) > 0 {
		channels = channels[:0:0]
		for _, name := range names {
			c, err := ParseChannel(name)
			if err != nil {
				httputil.WriteError(w, http.StatusBadRequest, err.Error())
				return
			}
			channels = append(channels, c)
		}
	}

	snap := b.Snapshot()
	if ws := r.URL.Query().Get("window"); ws != "" && snap.Len() > 0 {
		window, err := strconv.ParseFloat(ws, 64)
		if err != nil || window <= 0 {
			httputil.WriteError(w, http.StatusBadRequest, "invalid window")
			return
		}
		snap = snap.since(snap.Times[snap.Len()-1] - window)
	}

	x := make([]string, snap.Len())
	for i, t := range snap.Times {
		x[i] = strconv.FormatFloat(t, 'f', 3, 64)
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "SiPhOG History", Width: "100%", Height: "720px"}),
		charts.WithTitleOpts(opts.Title{Title: "SiPhOG Telemetry", Subtitle: fmt.Sprintf("samples=%d capacity=%d", snap.Len(), b.Capacity())}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Time (s)", NameLocation: "middle", NameGap: 25}),
	)
	line.SetXAxis(x)
	for _, c := range channels {
		values := snap.Series[c]
		data := make([]opts.LineData, len(values))
		for i, v := range values {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				data[i] = opts.LineData{Value: nil}
				continue
			}
			data[i] = opts.LineData{Value: v}
		}
		line.AddSeries(fmt.Sprintf("%s (%s)", c, c.Unit()), data)
	}

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		http.Error(w, "Failed to render chart", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}

// since returns the samples at or after t.
func (s Snapshot) since(t float64) Snapshot {
	start := 0
	for start < len(s.Times) && s.Times[start] < t {
		start++
	}
	out := Snapshot{Times: s.Times[start:], Series: make(map[Channel][]float64, len(s.Series))}
	for c, v := range s.Series {
		out.Series[c] = v[start:]
	}
	return out
}
