package command

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// Registry returns all CLI commands keyed by "service action".
func Registry() map[string]Command {
	commands := []Command{
		{
			Service:      "auth",
			Action:       "register",
			Method:       "POST",
			PathTemplate: "/api/v1/auth/register",
			RequiresAuth: false,
			Fields: []Field{
				{Name: "username", Prompt: "username", Type: FieldString, Required: true},
				{Name: "email", Prompt: "email", Type: FieldString, Required: true},
				{Name: "password", Prompt: "password", Type: FieldString, Required: true},
			},
		},
		{
			Service:      "auth",
			Action:       "login",
			Method:       "POST",
			PathTemplate: "/api/v1/auth/login",
			RequiresAuth: false,
			Fields: []Field{
				{Name: "username", Prompt: "username", Type: FieldString, Required: true},
				{Name: "password", Prompt: "password", Type: FieldString, Required: true},
			},
		},
		{
			Service:      "auth",
			Action:       "refresh",
			Method:       "POST",
			PathTemplate: "/api/v1/auth/refresh",
			RequiresAuth: false,
			Fields: []Field{
				{Name: "refresh_token", Prompt: "refresh_token", Type: FieldString, Required: true},
			},
		},
		{
			Service:      "auth",
			Action:       "logout",
			Method:       "POST",
			PathTemplate: "/api/v1/auth/logout",
			RequiresAuth: true,
			Fields: []Field{
				{Name: "refresh_token", Prompt: "refresh_token", Type: FieldString, Required: true},
			},
		},
		{
			Service:      "auth",
			Action:       "me",
			Method:       "GET",
			PathTemplate: "/api/v1/auth/me",
			RequiresAuth: true,
		},
		{
			Service:      "user",
			Action:       "ban",
			Method:       "POST",
			PathTemplate: "/api/v1/users/:id/ban",
			RequiresAuth: true,
			Fields: []Field{
				{Name: "id", Prompt: "user_id", Type: FieldInt64, Required: true},
			},
		},
		{
			Service:      "user",
			Action:       "unban",
			Method:       "DELETE",
			PathTemplate: "/api/v1/users/:id/ban",
			RequiresAuth: true,
			Fields: []Field{
				{Name: "id", Prompt: "user_id", Type: FieldInt64, Required: true},
			},
		},
		{
			Service:      "problem",
			Action:       "create",
			Method:       "POST",
			PathTemplate: "/api/v1/problems",
			RequiresAuth: true,
			Fields: []Field{
				{Name: "title", Prompt: "title", Type: FieldString, Required: true},
				{Name: "description", Prompt: "description", Type: FieldString, Required: false},
				{Name: "difficulty", Prompt: "difficulty (easy|medium|hard)", Type: FieldString, Required: true},
				{Name: "tags", Prompt: "tags (comma-separated)", Type: FieldStringList, Required: false},
				{Name: "time_limit_ms", Prompt: "time_limit_ms", Type: FieldInt, Required: false},
				{Name: "memory_limit_mb", Prompt: "memory_limit_mb", Type: FieldInt, Required: false},
				{Name: "cases_json", Prompt: "cases_json (JSON array)", Type: FieldJSON, Required: false},
				{Name: "cases_file", Prompt: "cases_file", Type: FieldFile, Required: false},
			},
		},
		{
			Service:      "problem",
			Action:       "update",
			Method:       "PUT",
			PathTemplate: "/api/v1/problems/:id",
			RequiresAuth: true,
			Fields: []Field{
				{Name: "id", Prompt: "problem_id", Type: FieldInt64, Required: true},
				{Name: "title", Prompt: "title", Type: FieldString, Required: true},
				{Name: "description", Prompt: "description", Type: FieldString, Required: false},
				{Name: "difficulty", Prompt: "difficulty (easy|medium|hard)", Type: FieldString, Required: true},
				{Name: "tags", Prompt: "tags (comma-separated)", Type: FieldStringList, Required: false},
				{Name: "time_limit_ms", Prompt: "time_limit_ms", Type: FieldInt, Required: true},
				{Name: "memory_limit_mb", Prompt: "memory_limit_mb", Type: FieldInt, Required: true},
			},
		},
		{
			Service:      "problem",
			Action:       "testcases",
			Method:       "PUT",
			PathTemplate: "/api/v1/problems/:id/testcases",
			RequiresAuth: true,
			Fields: []Field{
				{Name: "id", Prompt: "problem_id", Type: FieldInt64, Required: true},
				{Name: "cases_json", Prompt: "cases_json (JSON array)", Type: FieldJSON, Required: true},
				{Name: "cases_file", Prompt: "cases_file", Type: FieldFile, Required: false},
			},
		},
		{
			Service:      "problem",
			Action:       "publish",
			Method:       "POST",
			PathTemplate: "/api/v1/problems/:id/publish",
			RequiresAuth: true,
			Fields: []Field{
				{Name: "id", Prompt: "problem_id", Type: FieldInt64, Required: true},
			},
		},
		{
			Service:      "problem",
			Action:       "get",
			Method:       "GET",
			PathTemplate: "/api/v1/problems/:id",
			RequiresAuth: false,
			Fields: []Field{
				{Name: "id", Prompt: "problem_id", Type: FieldInt64, Required: true},
			},
		},
		{
			Service:      "problem",
			Action:       "list",
			Method:       "GET",
			PathTemplate: "/api/v1/problems",
			RequiresAuth: false,
			Fields: []Field{
				{Name: "difficulty", Prompt: "difficulty", Type: FieldString, InQuery: true},
				{Name: "tag", Prompt: "tag", Type: FieldString, InQuery: true},
				{Name: "keyword", Prompt: "keyword", Type: FieldString, InQuery: true},
				{Name: "page", Prompt: "page", Type: FieldInt, InQuery: true},
				{Name: "page_size", Prompt: "page_size", Type: FieldInt, InQuery: true},
			},
		},
		{
			Service:      "problem",
			Action:       "delete",
			Method:       "DELETE",
			PathTemplate: "/api/v1/problems/:id",
			RequiresAuth: true,
			Fields: []Field{
				{Name: "id", Prompt: "problem_id", Type: FieldInt64, Required: true},
			},
		},
		{
			Service:      "submit",
			Action:       "create",
			Method:       "POST",
			PathTemplate: "/api/v1/submissions",
			RequiresAuth: true,
			Fields: []Field{
				{Name: "problem_id", Prompt: "problem_id", Type: FieldInt64, Required: true},
				{Name: "language", Prompt: "language", Type: FieldString, Required: true},
				{Name: "source_code", Prompt: "source_code", Type: FieldString, Required: true},
				{Name: "idempotency_key", Prompt: "idempotency_key", Type: FieldString, Required: false},
				{Name: "source_file", Prompt: "source_file", Type: FieldFile, Required: false},
			},
		},
		{
			Service:      "submit",
			Action:       "get",
			Method:       "GET",
			PathTemplate: "/api/v1/submissions/:id",
			RequiresAuth: true,
			Fields: []Field{
				{Name: "id", Prompt: "submission_id", Type: FieldInt64, Required: true},
			},
		},
		{
			Service:      "submit",
			Action:       "status",
			Method:       "GET",
			PathTemplate: "/api/v1/submissions/:id/status",
			RequiresAuth: true,
			Fields: []Field{
				{Name: "id", Prompt: "submission_id", Type: FieldInt64, Required: true},
			},
		},
		{
			Service:      "submit",
			Action:       "list",
			Method:       "GET",
			PathTemplate: "/api/v1/submissions",
			RequiresAuth: true,
			Fields: []Field{
				{Name: "problem_id", Prompt: "problem_id", Type: FieldInt64, InQuery: true},
				{Name: "status", Prompt: "status", Type: FieldString, InQuery: true},
				{Name: "language", Prompt: "language", Type: FieldString, InQuery: true},
				{Name: "page", Prompt: "page", Type: FieldInt, InQuery: true},
				{Name: "page_size", Prompt: "page_size", Type: FieldInt, InQuery: true},
			},
		},
		{
			Service:      "submit",
			Action:       "source",
			Method:       "GET",
			PathTemplate: "/api/v1/submissions/:id/source",
			RequiresAuth: true,
			Fields: []Field{
				{Name: "id", Prompt: "submission_id", Type: FieldInt64, Required: true},
			},
		},
		{
			Service:      "submit",
			Action:       "feedback",
			Method:       "GET",
			PathTemplate: "/api/v1/submissions/:id/feedback",
			RequiresAuth: true,
			Fields: []Field{
				{Name: "id", Prompt: "submission_id", Type: FieldInt64, Required: true},
			},
		},
		{
			Service:      "stats",
			Action:       "user",
			Method:       "GET",
			PathTemplate: "/api/v1/stats/users/:id",
			RequiresAuth: false,
			Fields: []Field{
				{Name: "id", Prompt: "user_id", Type: FieldInt64, Required: true},
			},
		},
		{
			Service:      "stats",
			Action:       "me",
			Method:       "GET",
			PathTemplate: "/api/v1/stats/me",
			RequiresAuth: true,
		},
		{
			Service:      "stats",
			Action:       "leaderboard",
			Method:       "GET",
			PathTemplate: "/api/v1/stats/leaderboard",
			RequiresAuth: false,
			Fields: []Field{
				{Name: "limit", Prompt: "limit", Type: FieldInt, InQuery: true},
			},
		},
		{
			Service:      "recommend",
			Action:       "list",
			Method:       "GET",
			PathTemplate: "/api/v1/recommendations",
			RequiresAuth: true,
			Fields: []Field{
				{Name: "limit", Prompt: "limit", Type: FieldInt, InQuery: true},
			},
		},
		{
			Service:      "judge",
			Action:       "status",
			Method:       "GET",
			PathTemplate: "/api/v1/judge/status/:id",
			RequiresAuth: true,
			Fields: []Field{
				{Name: "id", Prompt: "submission_id", Type: FieldInt64, Required: true},
			},
		},
	}

	result := make(map[string]Command, len(commands))
	for _, cmd := range commands {
		key := fmt.Sprintf("%s %s", cmd.Service, cmd.Action)
		result[key] = cmd
	}
	return result
}

// BuildRequest creates HTTP request spec based on command.
func BuildRequest(cmd Command, params Params) (RequestSpec, error) {
	params.Canonicalize(cmd.Fields)
	path, err := buildPath(cmd, params)
	if err != nil {
		return RequestSpec{}, err
	}

	headers := map[string]string{}
	if cmd.Service == "submit" && cmd.Action == "create" && params.Get("idempotency_key") != "" {
		headers["Idempotency-Key"] = params.Get("idempotency_key")
	}

	var body []byte
	if cmd.Method != "GET" && cmd.Method != "DELETE" {
		payload, err := buildPayload(cmd, params)
		if err != nil {
			return RequestSpec{}, err
		}
		if payload != nil {
			body, err = json.Marshal(payload)
			if err != nil {
				return RequestSpec{}, fmt.Errorf("marshal request body failed: %w", err)
			}
		}
	}

	return RequestSpec{
		Method:  cmd.Method,
		Path:    path,
		Headers: headers,
		Body:    body,
	}, nil
}

func buildPath(cmd Command, params Params) (string, error) {
	path := cmd.PathTemplate
	if strings.Contains(path, ":id") {
		value := params.Get("id")
		if value == "" {
			return "", fmt.Errorf("missing path parameter: id")
		}
		path = strings.ReplaceAll(path, ":id", value)
	}

	query := url.Values{}
	for _, field := range cmd.Fields {
		if !field.InQuery {
			continue
		}
		if value := params.Get(field.Name); value != "" {
			query.Set(field.Name, value)
		}
	}
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	return path, nil
}

func buildPayload(cmd Command, params Params) (interface{}, error) {
	switch cmd.Service {
	case "auth":
		switch cmd.Action {
		case "register":
			return map[string]string{
				"username": params.Get("username"),
				"email":    params.Get("email"),
				"password": params.Get("password"),
			}, nil
		case "login":
			return map[string]string{
				"username": params.Get("username"),
				"password": params.Get("password"),
			}, nil
		case "refresh", "logout":
			return map[string]string{
				"refresh_token": params.Get("refresh_token"),
			}, nil
		}
	case "problem":
		switch cmd.Action {
		case "create", "update":
			return buildProblemPayload(cmd, params)
		case "testcases":
			cases, err := parseTestCases(params)
			if err != nil {
				return nil, err
			}
			if cases == nil {
				return nil, fmt.Errorf("cases_json is required")
			}
			return map[string]interface{}{
				"test_cases": cases,
			}, nil
		}
	case "submit":
		if cmd.Action == "create" {
			return buildSubmitCreatePayload(params)
		}
	}
	return nil, nil
}

func buildProblemPayload(cmd Command, params Params) (interface{}, error) {
	payload := map[string]interface{}{
		"title":      params.Get("title"),
		"difficulty": params.Get("difficulty"),
	}
	if params.Get("description") != "" {
		payload["description"] = params.Get("description")
	}
	if params.Get("tags") != "" {
		payload["tags"] = ParseStringList(params.Get("tags"))
	}
	for _, key := range []string{"time_limit_ms", "memory_limit_mb"} {
		if params.Get(key) == "" {
			continue
		}
		value, err := ParseInt(params.Get(key))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", key, err)
		}
		payload[key] = value
	}
	if cmd.Action == "create" {
		cases, err := parseTestCases(params)
		if err != nil {
			return nil, err
		}
		if cases != nil {
			payload["test_cases"] = cases
		}
	}
	return payload, nil
}

func parseTestCases(params Params) (json.RawMessage, error) {
	raw := params.Get("cases_json")
	if (raw == "" || raw == "_file_") && params.Get("cases_file") != "" {
		data, err := ReadFile(params.Get("cases_file"))
		if err != nil {
			return nil, err
		}
		raw = data
	}
	if raw == "" {
		return nil, nil
	}
	parsed, err := ParseJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid cases_json: %w", err)
	}
	return parsed, nil
}

func buildSubmitCreatePayload(params Params) (interface{}, error) {
	problemID, err := ParseInt64(params.Get("problem_id"))
	if err != nil {
		return nil, fmt.Errorf("invalid problem_id: %w", err)
	}

	sourceCode := params.Get("source_code")
	if (sourceCode == "" || sourceCode == "_file_") && params.Get("source_file") != "" {
		sourceCode, err = ReadFile(params.Get("source_file"))
		if err != nil {
			return nil, err
		}
	}
	if sourceCode == "" {
		return nil, fmt.Errorf("source_code is required")
	}

	return map[string]interface{}{
		"problem_id":  problemID,
		"language":    params.Get("language"),
		"source_code": sourceCode,
	}, nil
}
