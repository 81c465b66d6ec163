package app

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"kq-tunnel/internal/api"
	"kq-tunnel/internal/version"
)

const (
	bannerWidth = 60
)

var (
	bannerCyan    = color.New(color.FgCyan).SprintFunc()
	bannerMagenta = color.New(color.FgMagenta).SprintFunc()
	bannerBold    = color.New(color.Bold).SprintFunc()
	bannerGreen   = color.New(color.FgGreen).SprintFunc()
	bannerFaint   = color.New(color.Faint).SprintFunc()
)

// isTerminal 判断文件是否连接到终端
func isTerminal(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

type bannerRow struct {
	label string
	value string
}

// printBanner 输出启动横幅
func (a *App) printBanner(w io.Writer) {
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  %s %s\n", bannerCyan("kq-tunnel"), bannerFaint(version.GetShortVersion()))
	fmt.Fprintf(w, "  %s\n", bannerFaint(version.Platform()))
	fmt.Fprintln(w)

	rows := []bannerRow{
		{"Role", string(a.role)},
		{"Protocol", a.cfg.Transport.Protocol},
	}
	if a.server != nil {
		rows = append(rows, bannerRow{"Listen", a.ServerAddr()})
	} else {
		rows = append(rows, bannerRow{"Server", a.cfg.Transport.Address})
	}
	rows = append(rows,
		bannerRow{"Config File", displayPath(a.opts.ConfigPath, "(defaults)")},
		bannerRow{"Log File", displayPath(a.cfg.Log.File, "stderr")},
		bannerRow{"Resumable", fmt.Sprintf("%t", a.cfg.Session.Resumable)},
		bannerRow{"Start Time", time.Now().Format("2006-01-02 15:04:05")},
	)
	printSection(w, "Endpoint", rows)

	if len(a.forwarders) > 0 {
		rows = rows[:0]
		for _, f := range a.forwarders {
			addr := f.Spec().Listen
			if la := f.Addr(); la != nil {
				addr = la.String()
			}
			rows = append(rows, bannerRow{addr, "→ " + f.Spec().Target})
		}
		printSection(w, "Forwards", rows)
	}

	if a.dial != nil {
		target := a.cfg.Dial.Target
		if target == "" {
			target = "per stream"
		}
		allow := "any"
		if len(a.cfg.Dial.Allow) > 0 {
			allow = strings.Join(a.cfg.Dial.Allow, ", ")
		}
		printSection(w, "Dial Service", []bannerRow{
			{"Status", bannerGreen("✓ Enabled")},
			{"Target", target},
			{"Allow", allow},
		})
	}

	if a.api != nil {
		addr := a.cfg.API.Listen
		if la := a.api.Addr(); la != nil {
			addr = la.String()
		}
		printSection(w, "HTTP API", []bannerRow{
			{"Address", "http://" + addr},
			{"Base Path", bannerFaint(api.BasePath)},
			{"Health", bannerFaint("/healthz")},
		})
	}

	fmt.Fprintln(w, bannerFaint("  "+strings.Repeat("━", bannerWidth)))
	fmt.Fprintf(w, "  %s\n\n", bannerMagenta("Press Ctrl+C to stop"))
}

func printSection(w io.Writer, title string, rows []bannerRow) {
	fmt.Fprintln(w, bannerBold("  "+title))
	fmt.Fprintln(w, bannerFaint("  "+strings.Repeat("─", bannerWidth)))
	for _, row := range rows {
		fmt.Fprintf(w, "  %-18s %s\n", bannerBold(row.label+":"), row.value)
	}
	fmt.Fprintln(w)
}

// displayPath 展示为绝对路径，空值时返回 fallback
func displayPath(p, fallback string) string {
	if p == "" {
		return fallback
	}
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}
