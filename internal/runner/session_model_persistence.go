package runner

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
)

type uiPrefsData struct {
	PreferredTemplate   string `json:"preferred_template"`
	PreferredPodAddress string `json:"preferred_pod_address"`
}

// uiPrefs remembers small UI choices across launches: the last workout
// template and the last location pod. Losing the file is harmless.
type uiPrefs struct {
	filePath string
	data     uiPrefsData
	logger   *log.Logger
}

func newUIPrefs(dataDir string, logger *log.Logger) *uiPrefs {
	p := &uiPrefs{
		filePath: filepath.Join(dataDir, "ui_state.json"),
		logger:   logger,
	}
	p.load()
	return p
}

func (p *uiPrefs) getPreferredTemplate() string {
	return p.data.PreferredTemplate
}

func (p *uiPrefs) setPreferredTemplate(name string) {
	p.data.PreferredTemplate = name
	p.save()
}

func (p *uiPrefs) getPreferredPod() string {
	return p.data.PreferredPodAddress
}

func (p *uiPrefs) setPreferredPod(address string) {
	p.data.PreferredPodAddress = address
	p.save()
}

func (p *uiPrefs) load() {
	raw, err := os.ReadFile(p.filePath)
	if err != nil {
		p.logger.Printf("UIPrefs: no existing preferences at %s", p.filePath)
		return
	}
	if err := json.Unmarshal(raw, &p.data); err != nil {
		p.logger.Printf("UIPrefs: %s failed to parse: %v", p.filePath, err)
		return
	}
}

func (p *uiPrefs) save() {
	if err := os.MkdirAll(filepath.Dir(p.filePath), 0755); err != nil {
		p.logger.Printf("UIPrefs: save mkdir failed: %v", err)
		return
	}
	raw, err := json.MarshalIndent(p.data, "", "  ")
	if err != nil {
		p.logger.Printf("UIPrefs: save marshal failed: %v", err)
		return
	}
	if err := os.WriteFile(p.filePath, raw, 0644); err != nil {
		p.logger.Printf("UIPrefs: save %s failed: %v", p.filePath, err)
		return
	}
}
