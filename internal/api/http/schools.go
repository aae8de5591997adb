package httpapi

import (
	"cmp"
	"math"
	"math/rand/v2"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jonboulle/clockwork"
)

// School is one row of the demo dataset.
type School struct {
	ID         int     `json:"id"`
	SchoolName string  `json:"schoolName"`
	Region     string  `json:"region"`
	Year       int     `json:"year"`
	Value      float64 `json:"value"`
}

var (
	schoolRegions = []string{"London", "Midlands", "North West", "South East"}
	schoolYears   = []int{2022, 2023, 2024}
)

// Schools serves a generated dataset with server-side sorting and paging,
// standing in for a slow upstream.
type Schools struct {
	rows    []School
	latency time.Duration
	clock   clockwork.Clock
}

// NewSchools generates n rows from seed. A nil clock uses the real clock.
func NewSchools(n int, seed uint64, latency time.Duration, clock clockwork.Clock) *Schools {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	rows := make([]School, n)
	for i := range rows {
		rows[i] = School{
			ID:         i + 1,
			SchoolName: "School " + strconv.Itoa(i+1),
			Region:     schoolRegions[i%len(schoolRegions)],
			Year:       schoolYears[i%len(schoolYears)],
			Value:      math.Round(r.Float64()*10000) / 100,
		}
	}
	return &Schools{rows: rows, latency: latency, clock: clock}
}

// schoolsQuery holds query parameters for the schools endpoint.
type schoolsQuery struct {
	Page     int    `query:"page" validate:"gte=1"`
	PageSize int    `query:"pageSize" validate:"gte=1,lte=1000"`
	SortBy   string `query:"sortBy" validate:"omitempty,oneof=id schoolName region year value"`
	SortDir  string `query:"sortDir" validate:"omitempty,oneof=asc desc"`
}

// page returns one sorted page and the total row count.
func (s *Schools) page(q schoolsQuery) ([]School, int) {
	rows := s.rows
	if q.SortBy != "" {
		rows = slices.Clone(s.rows)
		desc := strings.EqualFold(q.SortDir, "desc")
		slices.SortStableFunc(rows, func(a, b School) int {
			c := compareSchools(a, b, q.SortBy)
			if desc {
				return -c
			}
			return c
		})
	}

	total := len(rows)
	start := (q.Page - 1) * q.PageSize
	if start >= total {
		return []School{}, total
	}
	end := min(start+q.PageSize, total)
	return rows[start:end], total
}

func compareSchools(a, b School, field string) int {
	switch field {
	case "schoolName":
		return cmp.Compare(a.SchoolName, b.SchoolName)
	case "region":
		return cmp.Compare(a.Region, b.Region)
	case "year":
		return cmp.Compare(a.Year, b.Year)
	case "value":
		return cmp.Compare(a.Value, b.Value)
	default:
		return cmp.Compare(a.ID, b.ID)
	}
}

func (s *Schools) handle(c *fiber.Ctx) error {
	q := schoolsQuery{Page: 1, PageSize: 50}
	if err := c.QueryParser(&q); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if err := validate.Struct(q); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	if s.latency > 0 {
		select {
		case <-s.clock.After(s.latency):
		case <-c.UserContext().Done():
			return c.UserContext().Err()
		}
	}

	rows, total := s.page(q)
	return c.JSON(fiber.Map{
		"rows":  rows,
		"total": total,
	})
}
