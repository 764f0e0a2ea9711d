package department

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/psds-microservice/queue-service/internal/ticket"
	"gopkg.in/yaml.v3"
)

// Department: пункт обслуживания. Code выводится из ID и задаёт префикс талонов.
type Department struct {
	ID    string `yaml:"id" json:"id"`
	Label string `yaml:"label" json:"label"`
	Code  string `yaml:"-" json:"code"`
}

// Отделения по умолчанию. Порядок значим для табло.
var Defaults = []Department{
	{ID: "emergency", Label: "UGD"},
	{ID: "outpatient", Label: "Rawat Jalan"},
	{ID: "laboratory", Label: "Laboratorium"},
	{ID: "radiology", Label: "Radiologi"},
}

// Registry: упорядоченный неизменяемый набор отделений.
type Registry struct {
	list []Department
	byID map[string]int
}

type fileFormat struct {
	Departments []Department `yaml:"departments"`
}

func New(departments []Department) (*Registry, error) {
	if len(departments) == 0 {
		return nil, errors.New("department: registry is empty")
	}
	r := &Registry{
		list: make([]Department, 0, len(departments)),
		byID: make(map[string]int, len(departments)),
	}
	for _, d := range departments {
		id := normalize(d.ID)
		if id == "" {
			return nil, errors.New("department: empty id")
		}
		if _, dup := r.byID[id]; dup {
			return nil, fmt.Errorf("department: duplicate id %q", id)
		}
		label := strings.TrimSpace(d.Label)
		if label == "" {
			label = id
		}
		r.byID[id] = len(r.list)
		r.list = append(r.list, Department{ID: id, Label: label, Code: ticket.Code(id)})
	}
	return r, nil
}

// Default возвращает реестр из Defaults.
func Default() *Registry {
	r, err := New(Defaults)
	if err != nil {
		panic(err)
	}
	return r
}

// LoadFile читает реестр из YAML:
//
//	departments:
//	  - id: emergency
//	    label: UGD
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("department: read %s: %w", path, err)
	}
	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("department: parse %s: %w", path, err)
	}
	return New(f.Departments)
}

// Lookup ищет отделение без учёта регистра и пробелов.
func (r *Registry) Lookup(id string) (Department, bool) {
	i, ok := r.byID[normalize(id)]
	if !ok {
		return Department{}, false
	}
	return r.list[i], true
}

func (r *Registry) Has(id string) bool {
	_, ok := r.byID[normalize(id)]
	return ok
}

// All возвращает копию списка в порядке конфигурации.
func (r *Registry) All() []Department {
	out := make([]Department, len(r.list))
	copy(out, r.list)
	return out
}

func (r *Registry) IDs() []string {
	out := make([]string, len(r.list))
	for i, d := range r.list {
		out[i] = d.ID
	}
	return out
}

func (r *Registry) Len() int {
	return len(r.list)
}

func normalize(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
