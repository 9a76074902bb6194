package repository

import (
	"testing"

	"github.com/ragworks/ragline/pkg/db"
)

func TestNewJobRepository_Unit(t *testing.T) {
	dbWrapper := &db.DB{}
	repo := NewJobRepository(dbWrapper)

	if repo == nil {
		t.Fatal("Expected non-nil repository")
	}
	if repo.db != dbWrapper {
		t.Error("Expected database to be set correctly")
	}
}

func TestNewTranscriptRepository_Unit(t *testing.T) {
	dbWrapper := &db.DB{}
	repo := NewTranscriptRepository(dbWrapper)

	if repo == nil {
		t.Fatal("Expected non-nil repository")
	}
	if repo.db != dbWrapper {
		t.Error("Expected database to be set correctly")
	}
}

func TestNewWorkflowRepository_Unit(t *testing.T) {
	dbWrapper := &db.DB{}
	repo := NewWorkflowRepository(dbWrapper)

	if repo == nil {
		t.Fatal("Expected non-nil repository")
	}
	if repo.db != dbWrapper {
		t.Error("Expected database to be set correctly")
	}
}

func TestRepository_ErrorConstants(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{name: "job", err: ErrJobNotFound, expected: "job not found"},
		{name: "transcript", err: ErrTranscriptNotFound, expected: "transcript not found"},
		{name: "workflow", err: ErrWorkflowNotFound, expected: "workflow not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err == nil {
				t.Fatal("Expected error to be defined")
			}
			if tt.err.Error() != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, tt.err.Error())
			}
		})
	}
}
