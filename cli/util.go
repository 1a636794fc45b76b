package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/hako/durafmt"
	"github.com/mattn/go-isatty"

	cn "github.com/filecoin-project/go-dataspace/contractnegotiation"
)

// Set the global default, to be overridden by individual cli flags in order
func init() {
	color.NoColor = os.Getenv("GOLOG_LOG_FMT") != "color" &&
		!isatty.IsTerminal(os.Stdout.Fd()) &&
		!isatty.IsCygwinTerminal(os.Stdout.Fd())
}

// Since renders how long ago t was, relative to now
func Since(now, t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := now.Sub(t)
	if d < time.Second {
		return "now"
	}
	return fmt.Sprintf("%s ago", durafmt.Parse(d.Truncate(time.Second)).LimitFirstN(2))
}

// ColoredState renders a state: green once confirmed, red once abandoned,
// yellow while a local decision may be due
func ColoredState(s cn.State) string {
	switch {
	case s == cn.Confirmed:
		return color.GreenString(s.String())
	case s.IsTerminal():
		return color.RedString(s.String())
	case s == cn.Requested || s == cn.Offered:
		return color.YellowString(s.String())
	default:
		return s.String()
	}
}
