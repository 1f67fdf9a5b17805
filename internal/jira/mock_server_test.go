package jira

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// MockServer provides a fake JIRA REST API for testing.
type MockServer struct {
	*httptest.Server

	mu          sync.Mutex
	issues      map[string]*Issue
	order       []string
	remoteLinks map[string][]RemoteLink
	comments    map[string][]Comment
	transitions map[string][]TransitionInfo
	users       []User
	myself      User

	// PageSize splits search results; 0 returns everything in one page.
	PageSize int
	// Search filters issues for a JQL query; nil matches everything.
	Search func(jql string, issue *Issue) bool
	// FailNext makes the next request fail with this status.
	FailNext int
	// RejectField makes creates that set this field fail with 400.
	RejectField string
	// RejectJQL makes searches containing this text fail with 400, as
	// stock Jira does for functions an add-on would provide.
	RejectJQL string

	Queries      []string
	Creates      []CreatePayload
	Updates      map[string][]UpdatePayload
	Transitioned map[string][]TransitionPayload
	Links        []IssueLinkPayload
}

// NewMockServer creates a mock JIRA API server.
func NewMockServer(t *testing.T) *MockServer {
	m := &MockServer{
		issues:       make(map[string]*Issue),
		remoteLinks:  make(map[string][]RemoteLink),
		comments:     make(map[string][]Comment),
		transitions:  make(map[string][]TransitionInfo),
		Updates:      make(map[string][]UpdatePayload),
		Transitioned: make(map[string][]TransitionPayload),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/rest/api/3/search/jql", m.handleSearch)
	mux.HandleFunc("/rest/api/3/issueLink", m.handleIssueLink)
	mux.HandleFunc("/rest/api/3/myself", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, m.myself)
	})
	mux.HandleFunc("/rest/api/3/user/search", m.handleUserSearch)
	mux.HandleFunc("/rest/api/3/issue", m.handleCreate)
	mux.HandleFunc("/rest/api/3/issue/", m.handleIssue)

	m.Server = httptest.NewServer(m.intercept(mux))
	t.Cleanup(m.Close)
	return m
}

// Client returns a client pointed at the mock.
func (m *MockServer) Client() *Client {
	return NewWithBaseURL(m.URL, "bot@acme.io", "token", m.Server.Client())
}

// AddIssue adds an issue. Its ID defaults to a number derived from order.
func (m *MockServer) AddIssue(issue *Issue) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if issue.ID == "" {
		issue.ID = strconv.Itoa(10000 + len(m.order))
	}
	m.issues[issue.Key] = issue
	m.order = append(m.order, issue.Key)
}

// GetIssue returns the stored issue for assertions.
func (m *MockServer) GetIssue(key string) *Issue {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.issues[key]
}

func (m *MockServer) AddRemoteLink(key string, link RemoteLink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remoteLinks[key] = append(m.remoteLinks[key], link)
}

func (m *MockServer) RemoteLinks(key string) []RemoteLink {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RemoteLink(nil), m.remoteLinks[key]...)
}

func (m *MockServer) AddComment(key string, c Comment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == "" {
		c.ID = strconv.Itoa(20000 + len(m.comments[key]))
	}
	m.comments[key] = append(m.comments[key], c)
}

func (m *MockServer) Comments(key string) []Comment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Comment(nil), m.comments[key]...)
}

func (m *MockServer) SetTransitions(key string, ts []TransitionInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions[key] = ts
}

func (m *MockServer) AddUser(u User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users = append(m.users, u)
}

func (m *MockServer) SetMyself(u User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.myself = u
}

func (m *MockServer) intercept(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		status := m.FailNext
		m.FailNext = 0
		m.mu.Unlock()
		if status != 0 {
			http.Error(w, `{"errorMessages":["injected"]}`, status)
			return
		}
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Basic ") {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (m *MockServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.Queries = append(m.Queries, req.JQL)
	if m.RejectJQL != "" && strings.Contains(req.JQL, m.RejectJQL) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"errorMessages": []string{"Error in the JQL Query: Unable to find JQL function '" + m.RejectJQL + "'."},
		})
		return
	}

	var matched []Issue
	for _, key := range m.order {
		issue := m.issues[key]
		if m.Search == nil || m.Search(req.JQL, issue) {
			matched = append(matched, *issue)
		}
	}

	start := 0
	if req.NextPageToken != "" {
		start, _ = strconv.Atoi(strings.TrimPrefix(req.NextPageToken, "page-"))
	}
	end := len(matched)
	if m.PageSize > 0 && start+m.PageSize < end {
		end = start + m.PageSize
	}
	resp := SearchResponse{Issues: matched[start:end], IsLast: end == len(matched)}
	if !resp.IsLast {
		resp.NextPageToken = fmt.Sprintf("page-%d", end)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (m *MockServer) handleCreate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var payload CreatePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	m.Creates = append(m.Creates, payload)
	reject := m.RejectField
	m.mu.Unlock()

	if _, ok := payload.Fields[reject]; ok && reject != "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"errors": map[string]string{reject: "Field cannot be set."},
		})
		return
	}

	project := payload.Fields["project"].(map[string]any)["key"].(string)
	issueType := payload.Fields["issuetype"].(map[string]any)["name"].(string)

	m.mu.Lock()
	key := fmt.Sprintf("%s-%d", project, len(m.order)+1)
	m.mu.Unlock()

	issue := &Issue{Key: key, Fields: Fields{
		Summary:   payload.Fields["summary"].(string),
		IssueType: IssueType{Name: issueType},
		Status:    Status{Name: "To Do"},
		Updated:   "2026-03-01T12:00:00.000+0000",
	}}
	if desc, ok := payload.Fields["description"]; ok {
		data, _ := json.Marshal(desc)
		var node ADFNode
		_ = json.Unmarshal(data, &node)
		issue.Fields.Description = &node
	}
	if parent, ok := payload.Fields["parent"].(map[string]any); ok {
		issue.Fields.Parent = &Parent{Key: parent["key"].(string)}
	}
	m.AddIssue(issue)
	writeJSON(w, http.StatusCreated, CreatedIssue{ID: issue.ID, Key: issue.Key})
}

func (m *MockServer) handleIssue(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/rest/api/3/issue/"), "/")
	key := parts[0]

	m.mu.Lock()
	issue, ok := m.issues[key]
	if !ok {
		for _, candidate := range m.issues {
			if candidate.ID == key {
				issue, ok = candidate, true
				key = candidate.Key
			}
		}
	}
	m.mu.Unlock()
	if !ok {
		http.Error(w, `{"errorMessages":["Issue does not exist"]}`, http.StatusNotFound)
		return
	}

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		m.mu.Lock()
		snapshot := *issue
		m.mu.Unlock()
		writeJSON(w, http.StatusOK, snapshot)

	case len(parts) == 1 && r.Method == http.MethodPut:
		var payload UpdatePayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		m.mu.Lock()
		m.Updates[key] = append(m.Updates[key], payload)
		if s, ok := payload.Fields["summary"].(string); ok {
			issue.Fields.Summary = s
		}
		m.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)

	case len(parts) == 1:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)

	case parts[1] == "remotelink" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, m.RemoteLinks(key))

	case parts[1] == "remotelink" && r.Method == http.MethodPost:
		var link RemoteLink
		if err := json.NewDecoder(r.Body).Decode(&link); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		m.AddRemoteLink(key, link)
		writeJSON(w, http.StatusCreated, map[string]any{"id": 1})

	case parts[1] == "comment" && len(parts) == 2 && r.Method == http.MethodGet:
		startAt, _ := strconv.Atoi(r.URL.Query().Get("startAt"))
		all := m.Comments(key)
		end := len(all)
		if m.PageSize > 0 && startAt+m.PageSize < end {
			end = startAt + m.PageSize
		}
		if startAt > end {
			startAt = end
		}
		writeJSON(w, http.StatusOK, CommentsPage{
			StartAt: startAt, MaxResults: m.PageSize, Total: len(all), Comments: all[startAt:end],
		})

	case parts[1] == "comment" && len(parts) == 2 && r.Method == http.MethodPost:
		var payload CommentPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		c := Comment{Body: payload.Body, Author: m.myself, Created: "2026-03-01T12:00:00.000+0000"}
		m.AddComment(key, c)
		writeJSON(w, http.StatusCreated, c)

	case parts[1] == "comment" && len(parts) == 3 && r.Method == http.MethodPut:
		var payload CommentPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		m.mu.Lock()
		defer m.mu.Unlock()
		for i := range m.comments[key] {
			if m.comments[key][i].ID == parts[2] {
				m.comments[key][i].Body = payload.Body
				w.WriteHeader(http.StatusOK)
				return
			}
		}
		http.Error(w, "no comment", http.StatusNotFound)

	case parts[1] == "transitions" && r.Method == http.MethodGet:
		m.mu.Lock()
		ts := m.transitions[key]
		m.mu.Unlock()
		writeJSON(w, http.StatusOK, TransitionsResponse{Transitions: ts})

	case parts[1] == "transitions" && r.Method == http.MethodPost:
		var payload TransitionPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		m.mu.Lock()
		m.Transitioned[key] = append(m.Transitioned[key], payload)
		for _, t := range m.transitions[key] {
			if t.ID == payload.Transition.ID {
				issue.Fields.Status = t.To
			}
		}
		m.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func (m *MockServer) handleUserSearch(w http.ResponseWriter, r *http.Request) {
	query := strings.ToLower(r.URL.Query().Get("query"))
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Queries = append(m.Queries, "user:"+query)
	var out []User
	for _, u := range m.users {
		if strings.Contains(strings.ToLower(u.EmailAddress), query) || strings.Contains(strings.ToLower(u.DisplayName), query) {
			out = append(out, u)
		}
	}
	if out == nil {
		out = []User{}
	}
	writeJSON(w, http.StatusOK, out)
}

func (m *MockServer) handleIssueLink(w http.ResponseWriter, r *http.Request) {
	var payload IssueLinkPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Links = append(m.Links, payload)
	in, out := m.issues[payload.InwardIssue.Key], m.issues[payload.OutwardIssue.Key]
	if in == nil || out == nil {
		http.Error(w, "no such issue", http.StatusNotFound)
		return
	}
	in.Fields.IssueLinks = append(in.Fields.IssueLinks, IssueLink{Type: payload.Type, OutwardIssue: &LinkedIssue{Key: out.Key}})
	out.Fields.IssueLinks = append(out.Fields.IssueLinks, IssueLink{Type: payload.Type, InwardIssue: &LinkedIssue{Key: in.Key}})
	w.WriteHeader(http.StatusCreated)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
