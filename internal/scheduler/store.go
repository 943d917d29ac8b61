package scheduler

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/pressridge/blogidx/internal/config"
	idxerrors "github.com/pressridge/blogidx/internal/errors"
)

var jobsBucket = []byte("jobs")

// Job is a persistent binding of a trigger to a configuration snapshot.
type Job struct {
	ID      string  `json:"id"`
	Trigger Trigger `json:"trigger"`

	// Config is the snapshot taken at creation time. Later changes to
	// process defaults never reach an existing job.
	Config *config.Config `json:"config"`

	NextFireTime time.Time `json:"next_fire_time"`
	LastFireTime time.Time `json:"last_fire_time,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`

	// Completed marks a one-shot job that already fired.
	Completed bool `json:"completed,omitempty"`

	// LatenessTolerance bounds how late a missed one-shot may still
	// fire on startup. Zero means the default tolerance.
	LatenessTolerance time.Duration `json:"lateness_tolerance,omitempty"`
}

// JobStore persists job definitions in a bbolt database.
type JobStore struct {
	db *bolt.DB
}

// OpenJobStore opens (or creates) the job database.
func OpenJobStore(path string) (*JobStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, idxerrors.New(idxerrors.ErrCodeJobPersist, "failed to create job store directory", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, idxerrors.New(idxerrors.ErrCodeJobPersist,
			fmt.Sprintf("failed to open job store %s", path), err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(jobsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, idxerrors.New(idxerrors.ErrCodeJobPersist, "failed to create jobs bucket", err)
	}

	return &JobStore{db: db}, nil
}

// Put writes a job definition.
func (s *JobStore) Put(job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return idxerrors.New(idxerrors.ErrCodeJobPersist, "failed to encode job", err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(jobsBucket).Put([]byte(job.ID), data)
	})
	if err != nil {
		return idxerrors.New(idxerrors.ErrCodeJobPersist,
			fmt.Sprintf("failed to persist job %s", job.ID), err)
	}
	return nil
}

// Get reads one job. A missing id returns a not-found error.
func (s *JobStore) Get(id string) (*Job, error) {
	var job *Job
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(jobsBucket).Get([]byte(id))
		if data == nil {
			return idxerrors.Newf(idxerrors.ErrCodeJobNotFound, "job %s not found", id)
		}
		job = new(Job)
		return json.Unmarshal(data, job)
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// Delete removes a job definition. Deleting a missing id is an error.
func (s *JobStore) Delete(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(jobsBucket)
		if b.Get([]byte(id)) == nil {
			return idxerrors.Newf(idxerrors.ErrCodeJobNotFound, "job %s not found", id)
		}
		return b.Delete([]byte(id))
	})
}

// List returns all persisted jobs in key order.
func (s *JobStore) List() ([]*Job, error) {
	var jobs []*Job
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(jobsBucket).ForEach(func(k, v []byte) error {
			job := new(Job)
			if err := json.Unmarshal(v, job); err != nil {
				return fmt.Errorf("corrupt job record %s: %w", k, err)
			}
			jobs = append(jobs, job)
			return nil
		})
	})
	if err != nil {
		return nil, idxerrors.New(idxerrors.ErrCodeJobPersist, "failed to list jobs", err)
	}
	return jobs, nil
}

// Close closes the database.
func (s *JobStore) Close() error {
	return s.db.Close()
}
