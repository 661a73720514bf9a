package providers

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
)

// dodsArray is one array from an OPeNDAP ASCII response, values in row-major order.
type dodsArray struct {
	Name   string
	Dims   []int
	Values []float64
}

func (a *dodsArray) size() int {
	n := 1
	for _, d := range a.Dims {
		n *= d
	}
	return n
}

var (
	asciiHeaderRE = regexp.MustCompile(`^([A-Za-z_][\w.]*),\s*((?:\[\d+\])+)\s*$`)
	asciiRowRE    = regexp.MustCompile(`^((?:\[\d+\])+),\s*(.*)$`)
	dimSizeRE     = regexp.MustCompile(`\[(\d+)\]`)

	ddsDeclRE = regexp.MustCompile(`^\s*(?:Float32|Float64|Int8|Int16|Int32|Int64|UInt16|UInt32|Byte)\s+(\w+)((?:\[[^\]]+\])*)\s*;`)
	ddsDimRE  = regexp.MustCompile(`\[\s*(?:(\w+)\s*=\s*)?(\d+)\s*\]`)
)

// parseASCII reads the ".ascii" form of an OPeNDAP response. Each array starts
// with a "name, [d1][d2]..." header followed by rows that are either
// index-prefixed ("[0][1], v, v") or bare vectors. Lines outside arrays, such
// as a DDS preamble, are ignored.
func parseASCII(r io.Reader) (map[string]*dodsArray, error) {
	arrays := make(map[string]*dodsArray)
	var cur *dodsArray

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if m := asciiHeaderRE.FindStringSubmatch(line); m != nil {
			cur = &dodsArray{Name: m[1]}
			for _, d := range dimSizeRE.FindAllStringSubmatch(m[2], -1) {
				n, _ := strconv.Atoi(d[1])
				cur.Dims = append(cur.Dims, n)
			}
			arrays[cur.Name] = cur
			continue
		}

		if cur == nil {
			continue
		}

		data := line
		if m := asciiRowRE.FindStringSubmatch(line); m != nil {
			data = m[2]
		}
		values, ok := parseValues(data)
		if !ok {
			cur = nil
			continue
		}
		cur.Values = append(cur.Values, values...)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read ascii response: %w", err)
	}

	for name, a := range arrays {
		if len(a.Values) != a.size() {
			return nil, fmt.Errorf("array %s: got %d values, want %d", name, len(a.Values), a.size())
		}
	}
	return arrays, nil
}

func parseValues(s string) ([]float64, bool) {
	parts := strings.Split(s, ",")
	values := make([]float64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, false
		}
		values = append(values, v)
	}
	return values, len(values) > 0
}

// gradsErrorMarkers identify the document GrADS serves with status 200 in
// place of a dataset that does not exist.
var gradsErrorMarkers = [][]byte{
	[]byte("is not an available dataset"),
	[]byte("Error {"),
}

func isGrADSError(body []byte) bool {
	head := body[:min(len(body), 512)]
	for _, m := range gradsErrorMarkers {
		if bytes.Contains(head, m) {
			return true
		}
	}
	return false
}

// lookupArray finds a variable in an ASCII response; GrADS servers name grid
// arrays "var.var" alongside their map vectors.
func lookupArray(arrays map[string]*dodsArray, name string) (*dodsArray, bool) {
	if a, ok := arrays[name+"."+name]; ok {
		return a, true
	}
	a, ok := arrays[name]
	return a, ok
}

// parseDDS returns the declared variables of a DDS document with their
// dimension names, e.g. tmp2m -> [time lat lon].
func parseDDS(r io.Reader) (map[string][]string, error) {
	vars := make(map[string][]string)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		m := ddsDeclRE.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}
		var dims []string
		for _, d := range ddsDimRE.FindAllStringSubmatch(m[2], -1) {
			dims = append(dims, d[1])
		}
		if prev, ok := vars[m[1]]; !ok || len(dims) > len(prev) {
			vars[m[1]] = dims
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read dds: %w", err)
	}
	if len(vars) == 0 {
		return nil, fmt.Errorf("dds declares no variables")
	}
	return vars, nil
}
