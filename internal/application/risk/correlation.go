package risk

import "strings"

// Correlator decide si dos mercados cuentan contra el mismo presupuesto de
// exposición correlacionada. Es enchufable para poder sustituir la
// heurística por una matriz de correlación real.
type Correlator interface {
	Correlated(categoryA, categoryB string) bool
}

// CategoryCorrelator es la heurística conservadora por defecto: dos mercados
// de la misma categoría se consideran correlacionados.
type CategoryCorrelator struct{}

// Correlated devuelve true si ambas categorías coinciden (sin distinguir
// mayúsculas). Categorías vacías nunca correlacionan.
func (CategoryCorrelator) Correlated(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return strings.EqualFold(a, b)
}

// GroupCorrelator correlaciona por grupos explícitos de categorías, además
// de la coincidencia exacta. Pensado para familias como elections/politics.
type GroupCorrelator struct {
	groups map[string]string // categoría (lowercase) → nombre de grupo
}

// NewGroupCorrelator construye el correlator a partir de grupos nombrados.
func NewGroupCorrelator(groups map[string][]string) GroupCorrelator {
	idx := make(map[string]string)
	for name, cats := range groups {
		for _, c := range cats {
			idx[strings.ToLower(c)] = name
		}
	}
	return GroupCorrelator{groups: idx}
}

func (g GroupCorrelator) Correlated(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	la, lb := strings.ToLower(a), strings.ToLower(b)
	if la == lb {
		return true
	}
	ga, oka := g.groups[la]
	gb, okb := g.groups[lb]
	return oka && okb && ga == gb
}
