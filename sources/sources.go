// Package sources builds the scrape workload: the ordered list of search
// URLs to paginate through, one per freguesia.
package sources

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"imovirtual-scraper/location"
	"imovirtual-scraper/models"
)

const unknown = "Unknown"

// LoadTasks reads a freguesias URL file (one search URL per line; blank
// lines and #-comments skipped) and returns the scrape tasks in file order.
// The geographic hierarchy is pre-resolved from each URL so that a task
// carries its own Distrito/Concelho/Freguesia context.
func LoadTasks(path string) ([]models.SearchTask, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("sources: open %s: %w", path, err)
	}
	defer f.Close()

	var tasks []models.SearchTask
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		tasks = append(tasks, taskFromURL(line))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("sources: read %s: %w", path, err)
	}
	return tasks, nil
}

// SingleTask wraps one base search URL as a one-element workload, used when
// no freguesias file is configured.
func SingleTask(searchURL string) []models.SearchTask {
	return []models.SearchTask{taskFromURL(searchURL)}
}

func taskFromURL(rawURL string) models.SearchTask {
	task := models.SearchTask{
		URL:       rawURL,
		Distrito:  unknown,
		Concelho:  unknown,
		Freguesia: unknown,
	}

	h := location.Resolve(rawURL)
	if h.Distrito != nil {
		task.Distrito = *h.Distrito
	}
	if h.Concelho != nil {
		task.Concelho = *h.Concelho
	}
	switch {
	case h.Freguesia != nil:
		task.Freguesia = *h.Freguesia
	case h.Concelho != nil:
		// Concelho-wide URL: all freguesias of the concelho.
		task.Freguesia = "Todos"
	}
	return task
}
