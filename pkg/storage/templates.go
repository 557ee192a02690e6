// Package storage persists named launch templates in a local JSON file.
//
// Templates are reusable LaunchSpec presets keyed by a template name. They
// are caller input, not instance state: the instance itself stays identified
// only by its Name tag in EC2.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/armandmcqueen/ec2-cluster/pkg/node"
)

// TemplateStore reads and writes launch templates in a JSON file.
type TemplateStore struct {
	filePath string
	mutex    sync.RWMutex
}

// NewTemplateStore creates a template store backed by filePath. An empty
// path falls back to ~/.ec2node/templates.json.
func NewTemplateStore(filePath string) *TemplateStore {
	if filePath == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			filePath = "/tmp/ec2node-templates.json"
		} else {
			filePath = filepath.Join(homeDir, ".ec2node", "templates.json")
		}
	}

	// Ensure directory exists
	dir := filepath.Dir(filePath)
	_ = os.MkdirAll(dir, 0755)

	return &TemplateStore{
		filePath: filePath,
	}
}

// TemplateRecord wraps a stored launch spec with bookkeeping timestamps.
type TemplateRecord struct {
	Name      string          `json:"name"`
	Spec      node.LaunchSpec `json:"spec"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// storeFile is the structure stored on disk.
type storeFile struct {
	Templates map[string]*TemplateRecord `json:"templates"`
	UpdatedAt time.Time                  `json:"updated_at"`
}

// Save stores spec under name, overwriting any existing template with the
// same name but preserving its creation time.
func (ts *TemplateStore) Save(name string, spec node.LaunchSpec) error {
	ts.mutex.Lock()
	defer ts.mutex.Unlock()

	data, err := ts.loadData()
	if err != nil {
		return err
	}

	now := time.Now()
	record := &TemplateRecord{
		Name:      name,
		Spec:      spec,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if existing, ok := data.Templates[name]; ok {
		record.CreatedAt = existing.CreatedAt
	}

	data.Templates[name] = record
	data.UpdatedAt = now

	return ts.saveData(data)
}

// Get retrieves the template stored under name.
func (ts *TemplateStore) Get(name string) (*TemplateRecord, error) {
	ts.mutex.RLock()
	defer ts.mutex.RUnlock()

	data, err := ts.loadData()
	if err != nil {
		return nil, err
	}

	record, exists := data.Templates[name]
	if !exists {
		return nil, fmt.Errorf("template %s not found", name)
	}

	return record, nil
}

// List returns all stored templates sorted by name.
func (ts *TemplateStore) List() ([]*TemplateRecord, error) {
	ts.mutex.RLock()
	defer ts.mutex.RUnlock()

	data, err := ts.loadData()
	if err != nil {
		return nil, err
	}

	records := make([]*TemplateRecord, 0, len(data.Templates))
	for _, record := range data.Templates {
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Name < records[j].Name
	})

	return records, nil
}

// Delete removes the template stored under name. Deleting a missing template
// is not an error.
func (ts *TemplateStore) Delete(name string) error {
	ts.mutex.Lock()
	defer ts.mutex.Unlock()

	data, err := ts.loadData()
	if err != nil {
		return err
	}

	delete(data.Templates, name)
	data.UpdatedAt = time.Now()

	return ts.saveData(data)
}

// loadData loads templates from the storage file.
func (ts *TemplateStore) loadData() (*storeFile, error) {
	if _, err := os.Stat(ts.filePath); os.IsNotExist(err) {
		return &storeFile{
			Templates: make(map[string]*TemplateRecord),
		}, nil
	}

	data, err := os.ReadFile(ts.filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read template file: %w", err)
	}

	var file storeFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to unmarshal template data: %w", err)
	}

	if file.Templates == nil {
		file.Templates = make(map[string]*TemplateRecord)
	}

	return &file, nil
}

// saveData writes templates to the storage file.
func (ts *TemplateStore) saveData(data *storeFile) error {
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal template data: %w", err)
	}

	err = os.WriteFile(ts.filePath, jsonData, 0644)
	if err != nil {
		return fmt.Errorf("failed to write template file: %w", err)
	}

	return nil
}
