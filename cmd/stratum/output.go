package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/samcharles93/stratum/internal/cpuinfo"
	"github.com/samcharles93/stratum/internal/tensor"
)

var stdout io.Writer = os.Stdout

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func capList(s cpuinfo.Set) []string {
	list := s.List()
	out := make([]string, len(list))
	for i, c := range list {
		out[i] = c.String()
	}
	return out
}

func joinInts(v []int, sep string) string {
	parts := make([]string, len(v))
	for i, n := range v {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, sep)
}

// parseShape accepts "13x37x19" or "13,37,19".
func parseShape(s string) (tensor.Shape, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty shape")
	}
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == 'x' || r == ',' || r == 'X' })
	shape := make(tensor.Shape, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid dimension %q in shape %q", f, s)
		}
		shape = append(shape, n)
	}
	return shape, shape.Check()
}
