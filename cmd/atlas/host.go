package main

import (
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/atlas-lang/atlas/stdlib"
	"github.com/atlas-lang/atlas/vm"
)

// hostLibraries returns the libraries that [[extern]] declarations can
// bind against from the CLI:
//
//	libc: getenv(char*) char*, abs(int) int, strlen(char*) int
//	libm: pow(double, double) double, sqrt(double) double, floor(double) double
//	host: hostname() char*, now() double, upper(char*) char*, isatty() bool
func hostLibraries() *vm.HostLibraries {
	libs := vm.NewHostLibraries()

	libs.Register("libc", "getenv", func(_ *stdlib.Context, args []any) (any, error) {
		return os.Getenv(args[0].(string)), nil
	})
	libs.Register("libc", "abs", func(_ *stdlib.Context, args []any) (any, error) {
		n := args[0].(int32)
		if n == math.MinInt32 {
			return nil, fmt.Errorf("abs overflows for %d", n)
		}
		if n < 0 {
			n = -n
		}
		return n, nil
	})
	libs.Register("libc", "strlen", func(_ *stdlib.Context, args []any) (any, error) {
		return len(args[0].(string)), nil
	})

	libs.Register("libm", "pow", func(_ *stdlib.Context, args []any) (any, error) {
		return math.Pow(args[0].(float64), args[1].(float64)), nil
	})
	libs.Register("libm", "sqrt", func(_ *stdlib.Context, args []any) (any, error) {
		return math.Sqrt(args[0].(float64)), nil
	})
	libs.Register("libm", "floor", func(_ *stdlib.Context, args []any) (any, error) {
		return math.Floor(args[0].(float64)), nil
	})

	libs.Register("host", "hostname", func(_ *stdlib.Context, _ []any) (any, error) {
		return os.Hostname()
	})
	libs.Register("host", "now", func(_ *stdlib.Context, _ []any) (any, error) {
		return float64(time.Now().UnixNano()) / 1e9, nil
	})
	libs.Register("host", "upper", func(_ *stdlib.Context, args []any) (any, error) {
		return strings.ToUpper(args[0].(string)), nil
	})
	libs.Register("host", "isatty", func(_ *stdlib.Context, _ []any) (any, error) {
		fi, err := os.Stdout.Stat()
		if err != nil {
			return false, nil
		}
		return fi.Mode()&os.ModeCharDevice != 0, nil
	})
	return libs
}
