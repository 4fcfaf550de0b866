package corpus

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

func readLines(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open corpus file: %w", err)
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read corpus file: %w", err)
	}
	return lines, nil
}

// readCSV takes the "message" column when a header names one, otherwise the
// first column of every row.
func readCSV(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open CSV file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read CSV: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	column := 0
	start := 0
	for i, field := range rows[0] {
		if strings.EqualFold(strings.TrimSpace(field), "message") {
			column = i
			start = 1
			break
		}
	}

	bodies := make([]string, 0, len(rows)-start)
	for _, row := range rows[start:] {
		if column < len(row) {
			bodies = append(bodies, row[column])
		}
	}
	return bodies, nil
}

// readJSON accepts either an array of strings or an array of objects with a
// "message" field.
func readJSON(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open JSON file: %w", err)
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode JSON: %w", err)
	}

	bodies := make([]string, 0, len(raw))
	for i, entry := range raw {
		var s string
		if err := json.Unmarshal(entry, &s); err == nil {
			bodies = append(bodies, s)
			continue
		}
		var obj struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(entry, &obj); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		bodies = append(bodies, obj.Message)
	}
	return bodies, nil
}
