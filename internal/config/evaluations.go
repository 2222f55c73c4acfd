package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"live-leaderboard-service/internal/domain"
)

// EvaluationsFile is the YAML document used to seed the evaluation catalog.
//
//	evaluations:
//	  - id: eval-1
//	    title: Arithmetic
//	    timeLimit: 10m
//	    questions:
//	      - id: q1
//	        prompt: What is 2 + 2?
//	        points: 10
//	        options:
//	          - {id: o1, text: "3"}
//	          - {id: o2, text: "4", correct: true}
type EvaluationsFile struct {
	Evaluations []evaluationDoc `yaml:"evaluations" validate:"dive"`
}

type evaluationDoc struct {
	ID        string        `yaml:"id" validate:"required"`
	Title     string        `yaml:"title"`
	TimeLimit time.Duration `yaml:"timeLimit" validate:"gte=0"`
	Questions []questionDoc `yaml:"questions" validate:"required,min=1,dive"`
}

type questionDoc struct {
	ID      string      `yaml:"id" validate:"required"`
	Prompt  string      `yaml:"prompt"`
	Points  int         `yaml:"points" validate:"gte=0"`
	Options []optionDoc `yaml:"options" validate:"required,min=2,dive"`
}

type optionDoc struct {
	ID      string `yaml:"id" validate:"required"`
	Text    string `yaml:"text"`
	Correct bool   `yaml:"correct"`
}

// LoadEvaluations reads an evaluations file into a catalog keyed by evaluation ID.
func LoadEvaluations(path string) (map[string]domain.Evaluation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseEvaluations(data)
}

func ParseEvaluations(data []byte) (map[string]domain.Evaluation, error) {
	var file EvaluationsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse evaluations: %w", err)
	}
	if err := validate.Struct(file); err != nil {
		return nil, fmt.Errorf("invalid evaluations: %w", err)
	}

	out := make(map[string]domain.Evaluation, len(file.Evaluations))
	for _, doc := range file.Evaluations {
		if _, dup := out[doc.ID]; dup {
			return nil, fmt.Errorf("duplicate evaluation %q", doc.ID)
		}
		out[doc.ID] = doc.toDomain()
	}
	return out, nil
}

func (d evaluationDoc) toDomain() domain.Evaluation {
	eval := domain.Evaluation{ID: d.ID, Title: d.Title, TimeLimit: d.TimeLimit}
	for _, q := range d.Questions {
		question := domain.Question{ID: q.ID, Prompt: q.Prompt, Points: q.Points}
		for _, o := range q.Options {
			question.Options = append(question.Options, domain.Option{ID: o.ID, Text: o.Text, Correct: o.Correct})
		}
		eval.Questions = append(eval.Questions, question)
	}
	return eval
}
