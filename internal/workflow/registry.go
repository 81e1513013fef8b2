package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
	"gorm.io/datatypes"

	"github.com/docmindhq/docmind-backend/internal/data/repos/workflows"
	"github.com/docmindhq/docmind-backend/internal/domain"
	"github.com/docmindhq/docmind-backend/internal/platform/dbctx"
	"github.com/docmindhq/docmind-backend/internal/platform/logger"
)

// SectionSpec is one retrieval section of a workflow definition. Queries run
// independently through the hybrid retriever and merge by best score.
type SectionSpec struct {
	Key          string   `yaml:"key" json:"key"`
	Title        string   `yaml:"title" json:"title"`
	Queries      []string `yaml:"queries" json:"queries"`
	PreferTables bool     `yaml:"prefer_tables" json:"prefer_tables"`
	MaxChunks    int      `yaml:"max_chunks" json:"max_chunks"`
}

// Definition is the YAML shape a workflow ships as. Definitions are synced
// into the workflow table at startup, keyed by name.
type Definition struct {
	Name            string         `yaml:"name"`
	Category        string         `yaml:"category"`
	PromptTemplate  string         `yaml:"prompt_template"`
	VariablesSchema map[string]any `yaml:"variables_schema"`
	OutputSchema    map[string]any `yaml:"output_schema"`
	OutputFormat    string         `yaml:"output_format"`
	MinDocuments    int            `yaml:"min_documents"`
	MaxDocuments    int            `yaml:"max_documents"`
	Retrieval       []SectionSpec  `yaml:"retrieval"`
}

func (d *Definition) validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("workflow definition missing name")
	}
	if strings.TrimSpace(d.PromptTemplate) == "" {
		return fmt.Errorf("workflow %q missing prompt_template", d.Name)
	}
	if len(d.Retrieval) == 0 {
		return fmt.Errorf("workflow %q has no retrieval sections", d.Name)
	}
	for _, s := range d.Retrieval {
		if s.Key == "" || len(s.Queries) == 0 {
			return fmt.Errorf("workflow %q section %q needs a key and at least one query", d.Name, s.Key)
		}
	}
	return nil
}

// LoadDefinitions reads every *.yaml / *.yml file under dir.
func LoadDefinitions(dir string) ([]*Definition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read workflow dir %s: %w", dir, err)
	}
	var defs []*Definition
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", e.Name(), err)
		}
		var d Definition
		if err := yaml.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("parse %s: %w", e.Name(), err)
		}
		if err := d.validate(); err != nil {
			return nil, err
		}
		defs = append(defs, &d)
	}
	return defs, nil
}

// SyncDefinitions upserts definitions into the workflow table so runs can
// reference them by id. Existing rows keep their ids across syncs.
func SyncDefinitions(dbc dbctx.Context, repo workflows.WorkflowRepo, defs []*Definition, log *logger.Logger) error {
	for _, d := range defs {
		w, err := d.toModel()
		if err != nil {
			return err
		}
		if _, err := repo.Upsert(dbc, w); err != nil {
			return fmt.Errorf("sync workflow %q: %w", d.Name, err)
		}
		log.Info("workflow definition synced", "name", d.Name, "sections", len(d.Retrieval))
	}
	return nil
}

func (d *Definition) toModel() (*domain.Workflow, error) {
	w := &domain.Workflow{
		Name:           d.Name,
		Category:       d.Category,
		PromptTemplate: d.PromptTemplate,
		OutputFormat:   d.OutputFormat,
		MinDocuments:   d.MinDocuments,
		MaxDocuments:   d.MaxDocuments,
	}
	if w.MinDocuments <= 0 {
		w.MinDocuments = 1
	}
	if w.MaxDocuments <= 0 {
		w.MaxDocuments = 10
	}
	var err error
	if w.VariablesSchema, err = toJSON(d.VariablesSchema); err != nil {
		return nil, err
	}
	if w.OutputSchema, err = toJSON(d.OutputSchema); err != nil {
		return nil, err
	}
	if w.RetrievalSpec, err = toJSON(d.Retrieval); err != nil {
		return nil, err
	}
	return w, nil
}

func toJSON(v any) (datatypes.JSON, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

// ParseRetrievalSpec decodes the stored spec back into section structs.
func ParseRetrievalSpec(w *domain.Workflow) ([]SectionSpec, error) {
	if len(w.RetrievalSpec) == 0 {
		return nil, fmt.Errorf("workflow %q has no retrieval spec", w.Name)
	}
	var specs []SectionSpec
	if err := json.Unmarshal(w.RetrievalSpec, &specs); err != nil {
		return nil, fmt.Errorf("workflow %q retrieval spec: %w", w.Name, err)
	}
	return specs, nil
}
