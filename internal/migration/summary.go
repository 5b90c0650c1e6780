package migration

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/nvandessel/quicksim/internal/constants"
	"github.com/nvandessel/quicksim/internal/quickerr"
)

// Describe renders a multi-index as "(low < name < high) && ...".
func (m *Matrix) Describe(idx []int) (string, error) {
	if _, err := m.Flatten(idx); err != nil {
		return "", err
	}
	parts := make([]string, len(idx))
	for d, b := range idx {
		parts[d] = fmt.Sprintf("(%s < %s < %s)", formatEdge(m.edges[d][b]), m.names[d], formatEdge(m.edges[d][b+1]))
	}
	return strings.Join(parts, " && "), nil
}

// Entry is one cell of the response matrix with both sides described.
type Entry struct {
	TrueFlat int     `json:"true_flat"`
	RecoFlat int     `json:"reco_flat"`
	True     string  `json:"true"`
	Reco     string  `json:"reco"`
	Response float64 `json:"response"`
}

// Entries returns every (true, reco) cell in flat order.
func (m *Matrix) Entries() []Entry {
	desc := make([]string, m.total)
	for i := range desc {
		idx, _ := m.Unflatten(i)
		desc[i], _ = m.Describe(idx)
	}
	out := make([]Entry, 0, m.total*m.total)
	for i := 0; i < m.total; i++ {
		for j := 0; j < m.total; j++ {
			out = append(out, Entry{
				TrueFlat: i,
				RecoFlat: j,
				True:     desc[i],
				Reco:     desc[j],
				Response: m.response[i*m.total+j],
			})
		}
	}
	return out
}

// Summary writes a human-readable dump of the matrix geometry and every
// response cell.
func (m *Matrix) Summary(w io.Writer) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Energy Configuration: %s\n", m.energyConfig)
	b.WriteString("Dimensions:")
	for d, name := range m.names {
		fmt.Fprintf(&b, " %s (%d bins)", name, m.dims[d])
	}
	fmt.Fprintf(&b, "\nTotal bins (flattened): %d\n", m.total)
	b.WriteString("Migration Response:\n")

	for i, e := range m.Entries() {
		fmt.Fprintf(&b, "True: %s  -->  Reco: %s : %s\n", e.True, e.Reco, formatEdge(e.Response))
		if (i+1)%m.total == 0 {
			b.WriteString("\n")
		}
	}
	if _, err := io.WriteString(w, b.String()); err != nil {
		return fmt.Errorf("writing summary: %w", err)
	}
	return nil
}

// HistogramFromCounts turns per-key accumulator totals ("i_j_...") into a
// flat histogram over the matrix bins. Keys with any index out of range
// are reported as ErrOutOfRange.
func (m *Matrix) HistogramFromCounts(counts map[string]float64) ([]float64, error) {
	hist := make([]float64, m.total)
	for key, v := range counts {
		parts := strings.Split(key, constants.BinKeySeparator)
		idx := make([]int, len(parts))
		for d, p := range parts {
			n, err := strconv.Atoi(p)
			if err != nil {
				return nil, fmt.Errorf("bin key %q: %v: %w", key, err, quickerr.ErrConfig)
			}
			idx[d] = n
		}
		flat, err := m.Flatten(idx)
		if err != nil {
			return nil, fmt.Errorf("bin key %q: %w", key, err)
		}
		hist[flat] += v
	}
	return hist, nil
}

func formatEdge(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
