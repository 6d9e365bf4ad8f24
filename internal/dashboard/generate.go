package dashboard

import (
	"embed"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"droneops-console/internal/sink"
)

//go:embed templates/*.json.tmpl
var templates embed.FS

// Params fills the dashboard templates.
type Params struct {
	// DatasourceUID is the Grafana GreptimeDB datasource. Empty falls back
	// to GREPTIMEDB_DATASOURCE_UID.
	DatasourceUID string
	Tables        sink.GreptimeTables
}

// Render writes a Grafana dashboard for every embedded template to outDir.
func Render(outDir string, p Params) error {
	if p.DatasourceUID == "" {
		p.DatasourceUID = os.Getenv("GREPTIMEDB_DATASOURCE_UID")
	}
	if p.DatasourceUID == "" {
		return errors.New("datasource uid required (set GREPTIMEDB_DATASOURCE_UID)")
	}
	def := sink.DefaultGreptimeTables()
	if p.Tables.Telemetry == "" {
		p.Tables.Telemetry = def.Telemetry
	}
	if p.Tables.Transitions == "" {
		p.Tables.Transitions = def.Transitions
	}
	if p.Tables.Commands == "" {
		p.Tables.Commands = def.Commands
	}
	if p.Tables.Dispatches == "" {
		p.Tables.Dispatches = def.Dispatches
	}

	t, err := template.ParseFS(templates, "templates/*.json.tmpl")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}
	for _, tpl := range t.Templates() {
		outPath := filepath.Join(outDir, strings.TrimSuffix(tpl.Name(), ".tmpl"))
		f, err := os.Create(outPath)
		if err != nil {
			return err
		}
		if err := tpl.Execute(f, p); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
	}
	return nil
}
