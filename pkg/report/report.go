// Package report renders quantitative indices as return-parameter files,
// console summaries and CSV tables, applying the reporting units: volumes
// and glycolysis in cm³ (×0.001) and glycolysis shares in percent (×100).
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"slices"
	"strconv"
	"strings"

	"quantindices/pkg/indices"
)

// Placeholder is printed for undefined or unselected indices.
const Placeholder = "--"

// Metric describes one reportable index
type Metric struct {
	// Name is the parameter name, e.g. "Std_Deviation"
	Name string

	// Caption is the console label
	Caption string

	// Group is the engine group that computes the index
	Group indices.Group

	// Scale converts engine units into reporting units
	Scale float64

	value func(r indices.Results) float64
}

// Value returns the index of r in reporting units.
func (m Metric) Value(r indices.Results) float64 {
	return m.Scale * m.value(r)
}

func gly(k int) func(indices.Results) float64 {
	return func(r indices.Results) float64 { return r.Gly[k] }
}

func share(k int) func(indices.Results) float64 {
	return func(r indices.Results) float64 { return r.Q[k] }
}

// Metrics lists every index in return-parameter order.
var Metrics = []Metric{
	{"Mean", "Mean", indices.GroupStatistics, 1, func(r indices.Results) float64 { return r.Mean }},
	{"Std_Deviation", "Std_Deviation", indices.GroupStatistics, 1, func(r indices.Results) float64 { return r.StandardDeviation }},
	{"RMS", "RMS", indices.GroupStatistics, 1, func(r indices.Results) float64 { return r.RMS }},
	{"Max", "Max", indices.GroupStatistics, 1, func(r indices.Results) float64 { return r.Max }},
	{"Min", "Min", indices.GroupStatistics, 1, func(r indices.Results) float64 { return r.Min }},
	{"Volume", "Volume", indices.GroupStatistics, 0.001, func(r indices.Results) float64 { return r.SegmentedVolume }},
	{"First_Quartile", "1st Quartile", indices.GroupQuantiles, 1, func(r indices.Results) float64 { return r.FirstQuartile }},
	{"Median", "Median", indices.GroupQuantiles, 1, func(r indices.Results) float64 { return r.Median }},
	{"Third_Quartile", "3rd Quartile", indices.GroupQuantiles, 1, func(r indices.Results) float64 { return r.ThirdQuartile }},
	{"Upper_Adjacent", "Upper Adjacent", indices.GroupQuantiles, 1, func(r indices.Results) float64 { return r.UpperAdjacent }},
	{"TLG", "TLG", indices.GroupStatistics, 0.001, func(r indices.Results) float64 { return r.TotalLesionGlycolysis }},
	{"Glycolysis_Q1", "Glycolysis Q1", indices.GroupStatistics, 0.001, gly(0)},
	{"Glycolysis_Q2", "Glycolysis Q2", indices.GroupStatistics, 0.001, gly(1)},
	{"Glycolysis_Q3", "Glycolysis Q3", indices.GroupStatistics, 0.001, gly(2)},
	{"Glycolysis_Q4", "Glycolysis Q4", indices.GroupStatistics, 0.001, gly(3)},
	{"Q1_Distribution", "Q1 Distribution", indices.GroupStatistics, 100, share(0)},
	{"Q2_Distribution", "Q2 Distribution", indices.GroupStatistics, 100, share(1)},
	{"Q3_Distribution", "Q3 Distribution", indices.GroupStatistics, 100, share(2)},
	{"Q4_Distribution", "Q4 Distribution", indices.GroupStatistics, 100, share(3)},
	{"SAM", "SAM", indices.GroupSAM, 0.001, func(r indices.Results) float64 { return r.SAMValue }},
	{"SAM_Background", "SAM mean background", indices.GroupSAM, 1, func(r indices.Results) float64 { return r.SAMBackground }},
	{"Peak", "Peak", indices.GroupPeak, 1, func(r indices.Results) float64 { return r.PeakValue }},
}

// csvColumns is the column order of CSV tables.
var csvColumns = []string{
	"Mean", "Min", "Max", "Peak", "Volume", "TLG", "Std_Deviation",
	"First_Quartile", "Median", "Third_Quartile", "Upper_Adjacent", "RMS",
	"Glycolysis_Q1", "Glycolysis_Q2", "Glycolysis_Q3", "Glycolysis_Q4",
	"Q1_Distribution", "Q2_Distribution", "Q3_Distribution", "Q4_Distribution",
	"SAM", "SAM_Background",
}

// Lookup returns the metric with the given name.
func Lookup(name string) (Metric, bool) {
	i := slices.IndexFunc(Metrics, func(m Metric) bool { return strings.EqualFold(m.Name, name) })
	if i < 0 {
		return Metric{}, false
	}
	return Metrics[i], true
}

// Selection is the set of requested metric names
type Selection map[string]bool

// All selects every metric.
func All() Selection {
	s := make(Selection, len(Metrics))
	for _, m := range Metrics {
		s[m.Name] = true
	}
	return s
}

// ParseSelection reads a comma separated list of metric names. An empty list
// or "all" selects everything.
func ParseSelection(list string) (Selection, error) {
	list = strings.TrimSpace(list)
	if list == "" || strings.EqualFold(list, "all") {
		return All(), nil
	}
	s := make(Selection)
	for _, name := range strings.Split(list, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		m, ok := Lookup(name)
		if !ok {
			return nil, fmt.Errorf("report: unknown metric %q", name)
		}
		s[m.Name] = true
	}
	if len(s) == 0 {
		return nil, fmt.Errorf("report: no metric selected in %q", list)
	}
	return s, nil
}

// Groups returns the engine groups needed to compute the selection.
func (s Selection) Groups() indices.Group {
	var g indices.Group
	for _, m := range Metrics {
		if s[m.Name] {
			g |= m.Group
		}
	}
	return g
}

// Names returns the selected metric names in return-parameter order.
func (s Selection) Names() []string {
	var names []string
	for _, m := range Metrics {
		if s[m.Name] {
			names = append(names, m.Name)
		}
	}
	return names
}

// FormatValue renders v, or the placeholder when v is NaN.
func FormatValue(v float64) string {
	if math.IsNaN(v) {
		return Placeholder
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// WriteReturnParameters writes one "Name_s = value" line per metric followed
// by the software version. Unselected and undefined metrics get the
// placeholder. A nil r writes placeholders only.
func WriteReturnParameters(w io.Writer, r *indices.Results, sel Selection, version string) error {
	for _, m := range Metrics {
		value := Placeholder
		if r != nil && sel[m.Name] {
			value = FormatValue(m.Value(*r))
		}
		if _, err := fmt.Fprintf(w, "%s_s = %s\n", m.Name, value); err != nil {
			return err
		}
	}
	if version == "" {
		return nil
	}
	_, err := fmt.Fprintf(w, "Software_Version = %s\n", version)
	return err
}

// WriteSummary prints the defined, selected metrics as "Caption: value".
func WriteSummary(w io.Writer, r indices.Results, sel Selection) error {
	for _, m := range Metrics {
		if !sel[m.Name] {
			continue
		}
		v := m.Value(r)
		if math.IsNaN(v) {
			continue
		}
		if _, err := fmt.Fprintf(w, "%s: %s\n", m.Caption, FormatValue(v)); err != nil {
			return err
		}
	}
	return nil
}

// WriteCSV writes one row per label with a Label_Value column followed by
// the selected metrics.
func WriteCSV(w io.Writer, results []indices.Results, sel Selection) error {
	var columns []Metric
	header := []string{"Label_Value"}
	for _, name := range csvColumns {
		if !sel[name] {
			continue
		}
		m, _ := Lookup(name)
		columns = append(columns, m)
		header = append(header, m.Name)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("report: writing csv header: %w", err)
	}
	row := make([]string, len(header))
	for _, r := range results {
		row[0] = strconv.Itoa(int(r.Label))
		for i, m := range columns {
			row[i+1] = FormatValue(m.Value(r))
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("report: writing csv row for label %d: %w", r.Label, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
