// Package render builds the on-disk config files an agent writes for
// an instance: the nodes.conf/unit-file formats spec.md §6 gives exact
// syntax for, plus a pass-through Renderer interface for everything
// else (the per-instance cache config file), which spec.md treats as an
// external template-engine collaborator.
package render

import (
	"fmt"
	"strconv"
	"strings"
	"text/template"

	"github.com/haste-cluster/haste/pkg/htypes"
)

// Renderer is the template-engine contract the core consumes:
// render(template_name, context) → string.
type Renderer interface {
	Render(templateName string, context map[string]any) (string, error)
}

// TextTemplateRenderer loads named text/template bodies registered via
// Register and executes them against a context map.
type TextTemplateRenderer struct {
	templates map[string]*template.Template
}

// NewTextTemplateRenderer builds an empty renderer.
func NewTextTemplateRenderer() *TextTemplateRenderer {
	return &TextTemplateRenderer{templates: make(map[string]*template.Template)}
}

// Register parses body under name for later Render calls.
func (r *TextTemplateRenderer) Register(name, body string) error {
	t, err := template.New(name).Parse(body)
	if err != nil {
		return fmt.Errorf("render: parse template %s: %w", name, err)
	}
	r.templates[name] = t
	return nil
}

// Render executes the named template against context.
func (r *TextTemplateRenderer) Render(templateName string, context map[string]any) (string, error) {
	t, ok := r.templates[templateName]
	if !ok {
		return "", fmt.Errorf("render: unknown template %s", templateName)
	}
	var sb strings.Builder
	if err := t.Execute(&sb, context); err != nil {
		return "", fmt.Errorf("render: execute %s: %w", templateName, err)
	}
	return sb.String(), nil
}

// NodesConfLine renders one nodes.conf line for inst, as observed by
// the node at selfHostPort (selfHostPort gets the "myself," flag
// prefix). Only masters receive a slot-range suffix; spec.md §4.1 Stage
// F's Open Question decision keeps slave slot ranges in the Plan but
// the rendered config omits them.
func NodesConfLine(inst htypes.Instance, selfHostPort string) string {
	flags := string(inst.Role)
	hostPort := inst.Host + ":" + strconv.Itoa(inst.Port)
	if hostPort == selfHostPort {
		flags = "myself," + flags
	}

	slots := ""
	if inst.Role == htypes.RoleMaster {
		parts := make([]string, 0, len(inst.Slots))
		for _, s := range inst.Slots {
			if s.Begin == s.End {
				parts = append(parts, strconv.Itoa(s.Begin))
			} else {
				parts = append(parts, strconv.Itoa(s.Begin)+"-"+strconv.Itoa(s.End))
			}
		}
		slots = strings.Join(parts, " ")
	}

	return fmt.Sprintf("%s %s@%d %s %s 0 0 0 connected %s\n",
		inst.RunID, hostPort, inst.Port+10000, flags, inst.SlaveOf, slots)
}

// NodesConf renders the full nodes.conf for the node at selfHostPort:
// one line per instance in the plan, per spec.md §6.
func NodesConf(instances []htypes.Instance, selfHostPort string) string {
	var sb strings.Builder
	for _, inst := range instances {
		sb.WriteString(NodesConfLine(inst, selfHostPort))
	}
	return sb.String()
}

const unitTemplate = `[Unit]
Description=haste cache instance on port {{.Port}}
After=network.target

[Service]
ExecStart={{.ExecStart}}
Restart=always
RestartSec=1
LimitNOFILE=65536

[Install]
WantedBy=multi-user.target
`

// SystemdUnit renders the unit file for the cache process listening on
// port, invoking binaryPath with args.
func SystemdUnit(port int, binaryPath string, args []string) (string, error) {
	t, err := template.New("unit").Parse(unitTemplate)
	if err != nil {
		return "", fmt.Errorf("render: parse unit template: %w", err)
	}

	execStart := binaryPath
	if len(args) > 0 {
		execStart += " " + strings.Join(args, " ")
	}

	var sb strings.Builder
	if err := t.Execute(&sb, map[string]any{"Port": port, "ExecStart": execStart}); err != nil {
		return "", fmt.Errorf("render: execute unit template: %w", err)
	}
	return sb.String(), nil
}
