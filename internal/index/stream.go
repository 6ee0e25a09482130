package index

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Stream yields index rows lazily, one page at a time. It cannot be rewound;
// open a new stream to read the index again.
type Stream struct {
	fetcher   *Fetcher
	domain    string
	buf       []Row
	pos       int
	row       Row
	resumeKey string
	fetched   int
	pages     int
	done      bool
	err       error
}

// Next advances to the next row, fetching a page when the current one is used
// up. It returns false at end of data, at the record limit, or on error.
func (s *Stream) Next(ctx context.Context) bool {
	if s.err != nil {
		return false
	}
	limit := s.fetcher.cfg.Limit
	if limit > 0 && s.fetched >= limit {
		return false
	}

	for s.pos >= len(s.buf) {
		if s.done {
			return false
		}
		if err := s.nextPage(ctx); err != nil {
			s.err = err
			return false
		}
	}

	s.row = s.buf[s.pos]
	s.pos++
	s.fetched++
	return true
}

// Row returns the current row.
func (s *Stream) Row() Row {
	return s.row
}

// Err returns the error that stopped the stream, if any.
func (s *Stream) Err() error {
	return s.err
}

// Fetched is the number of rows handed out so far.
func (s *Stream) Fetched() int {
	return s.fetched
}

// Pages is the number of pages requested so far.
func (s *Stream) Pages() int {
	return s.pages
}

func (s *Stream) nextPage(ctx context.Context) error {
	cfg := s.fetcher.cfg
	size := cfg.PageSize
	if cfg.Limit > 0 && cfg.Limit-s.fetched < size {
		size = cfg.Limit - s.fetched
	}

	pageURL, err := s.fetcher.pageURL(s.domain, size, s.resumeKey)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrIndexUnavailable, err)
	}

	p, err := s.fetcher.fetchPage(ctx, pageURL)
	if err != nil {
		return err
	}
	s.pages++
	if cfg.Observer != nil {
		cfg.Observer.ObserveIndexPage(len(p.rows))
	}

	cfg.Logger.WithFields(logrus.Fields{
		"domain": s.domain,
		"page":   s.pages,
		"rows":   len(p.rows),
		"resume": p.resumeKey != "",
	}).Debug("index page fetched")

	s.buf = p.rows
	s.pos = 0
	s.resumeKey = p.resumeKey
	if p.resumeKey == "" || len(p.rows) == 0 {
		s.done = true
	}
	return nil
}
