package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"

	"github.com/OFFIS-RIT/tvkpi/pkg/common"
	"github.com/OFFIS-RIT/tvkpi/pkg/logger"

	"github.com/go-playground/validator"
)

const inputIndexFile = "index.json"

type inputDocument struct {
	Source    common.Source `json:"source" validate:"required,oneof=consensus filing"`
	Filename  string        `json:"filename" validate:"required"`
	Company   string        `json:"company" validate:"required"`
	Date      string        `json:"date"`
	FullText  string        `json:"full_text"`
	CharCount int           `json:"char_count" validate:"min=0"`
}

var inputValidator = func() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		return strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	})
	return v
}()

// LoadDocuments reads the extracted documents in dir. If dir holds an
// index.json with an array of documents, that array is used in its order;
// otherwise every other *.json file is read as one document, in file name
// order. Invalid records are logged and skipped.
func LoadDocuments(dir string) ([]common.ExtractedDocument, error) {
	data, err := os.ReadFile(filepath.Join(dir, inputIndexFile))
	switch {
	case err == nil:
		var raw []inputDocument
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", inputIndexFile, err)
		}
		docs := make([]common.ExtractedDocument, 0, len(raw))
		for i, r := range raw {
			if doc, ok := checkDocument(r, fmt.Sprintf("%s[%d]", inputIndexFile, i)); ok {
				docs = append(docs, doc)
			}
		}
		return docs, nil
	case !errors.Is(err, fs.ErrNotExist):
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read input directory %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	docs := make([]common.ExtractedDocument, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		var r inputDocument
		if err := json.Unmarshal(data, &r); err != nil {
			logger.Warn("Skipping unreadable document", "file", name, "err", err)
			continue
		}
		if doc, ok := checkDocument(r, name); ok {
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

func checkDocument(r inputDocument, where string) (common.ExtractedDocument, bool) {
	if err := inputValidator.Struct(r); err != nil {
		logger.Warn("Skipping invalid document", "at", where, "err", err)
		return common.ExtractedDocument{}, false
	}
	return common.ExtractedDocument(r), true
}
