package reel

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Arg is one filter option. An empty Key makes it positional.
type Arg struct {
	Key   string
	Value string
}

// Filter is a single named filter with ordered options.
type Filter struct {
	Name string
	Args []Arg
}

// Chain is a linear run of filters between labelled pads.
// Labels containing ':' refer to input streams (e.g. "0:v").
type Chain struct {
	Inputs  []string
	Filters []Filter
	Outputs []string
}

// Graph is an ordered set of chains, serialized for -filter_complex.
type Graph struct {
	Chains []Chain
}

func NewFilter(name string, args ...Arg) Filter {
	return Filter{Name: name, Args: args}
}

func KV(key string, value any) Arg {
	return Arg{Key: key, Value: formatValue(value)}
}

func Pos(value any) Arg {
	return Arg{Value: formatValue(value)}
}

func (g *Graph) Add(inputs []string, filters []Filter, outputs ...string) {
	g.Chains = append(g.Chains, Chain{Inputs: inputs, Filters: filters, Outputs: outputs})
}

// Filter returns the first filter with the given name, if any.
func (g Graph) Filter(name string) (Filter, bool) {
	for _, c := range g.Chains {
		for _, f := range c.Filters {
			if f.Name == name {
				return f, true
			}
		}
	}
	return Filter{}, false
}

// Arg returns the value of a named option.
func (f Filter) Arg(key string) (string, bool) {
	for _, a := range f.Args {
		if a.Key == key {
			return a.Value, true
		}
	}
	return "", false
}

func (f Filter) String() string {
	if len(f.Args) == 0 {
		return f.Name
	}
	parts := make([]string, len(f.Args))
	for i, a := range f.Args {
		if a.Key == "" {
			parts[i] = quoteValue(a.Value)
		} else {
			parts[i] = a.Key + "=" + quoteValue(a.Value)
		}
	}
	return f.Name + "=" + strings.Join(parts, ":")
}

func (c Chain) String() string {
	var b strings.Builder
	for _, in := range c.Inputs {
		b.WriteString("[" + in + "]")
	}
	for i, f := range c.Filters {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(f.String())
	}
	for _, out := range c.Outputs {
		b.WriteString("[" + out + "]")
	}
	return b.String()
}

func (g Graph) String() string {
	chains := make([]string, len(g.Chains))
	for i, c := range g.Chains {
		chains[i] = c.String()
	}
	return strings.Join(chains, ";")
}

// Validate checks that every intermediate label is produced before it is
// consumed, produced once, and consumed once. Labels listed in outputs are
// the graph's sinks and must be produced but not consumed.
func (g Graph) Validate(outputs ...string) error {
	produced := map[string]bool{}
	consumed := map[string]bool{}

	for i, c := range g.Chains {
		if len(c.Filters) == 0 {
			return fmt.Errorf("chain %d has no filters", i)
		}
		for _, in := range c.Inputs {
			if strings.Contains(in, ":") {
				continue
			}
			if !produced[in] {
				return fmt.Errorf("chain %d consumes [%s] before it is produced", i, in)
			}
			if consumed[in] {
				return fmt.Errorf("label [%s] consumed twice", in)
			}
			consumed[in] = true
		}
		for _, out := range c.Outputs {
			if produced[out] {
				return fmt.Errorf("label [%s] produced twice", out)
			}
			produced[out] = true
		}
	}

	sinks := map[string]bool{}
	for _, out := range outputs {
		if !produced[out] {
			return fmt.Errorf("output [%s] is never produced", out)
		}
		if consumed[out] {
			return fmt.Errorf("output [%s] is consumed inside the graph", out)
		}
		sinks[out] = true
	}
	for label := range produced {
		if !consumed[label] && !sinks[label] {
			return fmt.Errorf("label [%s] is produced but never used", label)
		}
	}
	return nil
}

const specialChars = ",:;[]'\\= "

func quoteValue(v string) string {
	if !strings.ContainsAny(v, specialChars) {
		return v
	}
	return "'" + strings.ReplaceAll(v, "'", `'\''`) + "'"
}

func formatValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case int:
		return strconv.Itoa(x)
	case float64:
		return Num(x)
	case bool:
		if x {
			return "1"
		}
		return "0"
	default:
		return fmt.Sprint(v)
	}
}

// Num formats a float with at most four decimals and no trailing zeros.
func Num(v float64) string {
	r := math.Round(v*1e4) / 1e4
	if r == 0 {
		r = 0 // drop negative zero
	}
	return strconv.FormatFloat(r, 'f', -1, 64)
}
