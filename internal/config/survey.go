package config

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/ruskmedia/screener/internal/screening"
)

//go:embed survey.yaml
var defaultSurvey []byte

// LoadSurvey reads the survey definition from path, falling back to the
// embedded default when path is empty.
func LoadSurvey(path string) (*screening.Survey, error) {
	data := defaultSurvey
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read survey %s: %w", path, err)
		}
		data = b
	}
	return screening.ParseSurvey(data)
}
