// Package catalog holds the static option data the conversation offers:
// the selectable cities, per-city pickup points, and the date window.
package catalog

import "time"

// OutOfRangeLabel is the sentinel date option for deliveries outside the
// generated window. When selected it is stored verbatim as the date segment.
const OutOfRangeLabel = "вне диапазона дат"

// Catalog is an immutable set of cities and, for cities with several pickup
// points, the point list. A city without a point list stands for its own
// point.
type Catalog struct {
	cities []string
	points map[string][]string
}

// New builds a catalog from a city list and a city → points mapping.
// Both are copied; the catalog is safe for concurrent readers.
func New(cities []string, points map[string][]string) *Catalog {
	c := &Catalog{
		cities: append([]string(nil), cities...),
		points: make(map[string][]string, len(points)),
	}
	for city, pts := range points {
		c.points[city] = append([]string(nil), pts...)
	}
	return c
}

// Default returns the production catalog.
func Default() *Catalog {
	return New(
		[]string{"Апатиты", "Вологда", "Тагил", "Кировск", "Мурманск", "Санкт-Петербург"},
		map[string][]string{
			"Санкт-Петербург": {"Гороховая", "Ветеранов", "Восстания", "Комендантский", "Лето", "Невский"},
		},
	)
}

// Cities returns the ordered city labels.
func (c *Catalog) Cities() []string { return c.cities }

// HasCity reports whether name is a selectable city.
func (c *Catalog) HasCity(name string) bool {
	for _, city := range c.cities {
		if city == name {
			return true
		}
	}
	return false
}

// Points returns the ordered point labels for a city, or nil when the city
// has no secondary choice.
func (c *Catalog) Points(city string) []string { return c.points[city] }

// HasPoints reports whether selecting a point is required for the city.
func (c *Catalog) HasPoints(city string) bool { return len(c.points[city]) > 0 }

// HasPoint reports whether name is a selectable point of the city.
func (c *Catalog) HasPoint(city, name string) bool {
	for _, p := range c.points[city] {
		if p == name {
			return true
		}
	}
	return false
}

// DateWindow returns the date labels offered at the date stage: five
// calendar days centered on now (two before through two after) formatted
// with layout, followed by OutOfRangeLabel.
func DateWindow(now time.Time, layout string) []string {
	labels := make([]string, 0, 6)
	for d := -2; d <= 2; d++ {
		labels = append(labels, now.AddDate(0, 0, d).Format(layout))
	}
	return append(labels, OutOfRangeLabel)
}
