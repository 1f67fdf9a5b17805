package linear

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

var opPattern = regexp.MustCompile(`^\s*(?:query|mutation)\s+(\w+)`)

// Call is one recorded GraphQL operation.
type Call struct {
	Op        string
	Variables map[string]any
}

// MockServer provides a fake Linear GraphQL API for testing. It understands
// the operations this package sends, dispatching on the operation name.
type MockServer struct {
	*httptest.Server

	mu          sync.Mutex
	team        Team
	issues      []*Issue
	projects    []*Project
	comments    map[string][]Comment
	attachments map[string][]Attachment
	links       map[string][]ProjectLink
	relations   map[string][]IssueRelation
	statuses    []ProjectStatus
	users       []User
	viewer      User

	// PageSize splits list results; 0 returns everything in one page.
	PageSize int
	// Fail makes every operation with this name return a GraphQL error.
	Fail string

	Calls []Call
}

// NewMockServer creates a mock Linear API serving team ENG.
func NewMockServer(t *testing.T) *MockServer {
	m := &MockServer{
		team: Team{ID: "team-eng", Key: "ENG", States: &Connection[WorkflowState]{Nodes: []WorkflowState{
			{ID: "st-backlog", Name: "Backlog", Type: "backlog", Position: 0},
			{ID: "st-todo", Name: "Todo", Type: "unstarted", Position: 1},
			{ID: "st-progress", Name: "In Progress", Type: "started", Position: 2},
			{ID: "st-done", Name: "Done", Type: "completed", Position: 3},
			{ID: "st-canceled", Name: "Canceled", Type: "canceled", Position: 4},
		}}},
		comments:    make(map[string][]Comment),
		attachments: make(map[string][]Attachment),
		links:       make(map[string][]ProjectLink),
		relations:   make(map[string][]IssueRelation),
		statuses: []ProjectStatus{
			{ID: "ps-backlog", Name: "Backlog", Type: "backlog"},
			{ID: "ps-planned", Name: "Planned", Type: "planned"},
			{ID: "ps-started", Name: "In Progress", Type: "started"},
			{ID: "ps-done", Name: "Completed", Type: "completed"},
			{ID: "ps-canceled", Name: "Canceled", Type: "canceled"},
		},
	}
	m.Server = httptest.NewServer(http.HandlerFunc(m.handle))
	t.Cleanup(m.Close)
	return m
}

// Client returns a client pointed at the mock.
func (m *MockServer) Client() *Client {
	return NewWithURL(m.URL, "lin_api_test", m.Server.Client())
}

// AddIssue stores an issue in team ENG. ID, identifier and URL are derived
// when empty.
func (m *MockServer) AddIssue(i *Issue) *Issue {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.issues) + 1
	if i.ID == "" {
		i.ID = fmt.Sprintf("iss-%d", n)
	}
	if i.Identifier == "" {
		i.Identifier = fmt.Sprintf("ENG-%d", n)
	}
	if i.URL == "" {
		i.URL = "https://linear.app/acme/issue/" + i.Identifier
	}
	if i.Team.Key == "" {
		i.Team = Team{ID: m.team.ID, Key: m.team.Key}
	}
	m.issues = append(m.issues, i)
	return i
}

// AddProject stores a project accessible to team ENG.
func (m *MockServer) AddProject(p *Project) *Project {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.projects) + 1
	if p.ID == "" {
		p.ID = fmt.Sprintf("prj-%d", n)
	}
	if p.SlugID == "" {
		p.SlugID = fmt.Sprintf("slug%d", n)
	}
	if p.URL == "" {
		p.URL = "https://linear.app/acme/project/" + p.SlugID
	}
	m.projects = append(m.projects, p)
	return p
}

func (m *MockServer) AddComment(issueID string, c Comment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == "" {
		c.ID = fmt.Sprintf("cmt-%s-%d", issueID, len(m.comments[issueID])+1)
	}
	m.comments[issueID] = append(m.comments[issueID], c)
}

func (m *MockServer) Comments(issueID string) []Comment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Comment(nil), m.comments[issueID]...)
}

func (m *MockServer) AddAttachment(issueID string, a Attachment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attachments[issueID] = append(m.attachments[issueID], a)
}

func (m *MockServer) Attachments(issueID string) []Attachment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Attachment(nil), m.attachments[issueID]...)
}

func (m *MockServer) ProjectLinks(projectID string) []ProjectLink {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ProjectLink(nil), m.links[projectID]...)
}

func (m *MockServer) AddRelation(issueID string, r IssueRelation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.relations[issueID] = append(m.relations[issueID], r)
}

func (m *MockServer) AddUser(u User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users = append(m.users, u)
}

func (m *MockServer) SetViewer(u User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.viewer = u
}

// Issue returns the stored issue for assertions.
func (m *MockServer) Issue(id string) *Issue {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findIssue(id)
}

// CallsTo returns the recorded calls of one operation.
func (m *MockServer) CallsTo(op string) []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Call
	for _, c := range m.Calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

func (m *MockServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"errors": []map[string]any{{"message": "Authentication required", "extensions": map[string]string{"code": "AUTHENTICATION_ERROR"}}},
		})
		return
	}
	var req request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	match := opPattern.FindStringSubmatch(req.Query)
	if match == nil {
		http.Error(w, "no operation name", http.StatusBadRequest)
		return
	}
	op := match[1]

	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, Call{Op: op, Variables: req.Variables})

	if op == m.Fail {
		writeJSON(w, http.StatusOK, map[string]any{
			"errors": []map[string]any{{"message": "injected", "extensions": map[string]string{"code": "RATELIMITED"}}},
		})
		return
	}

	data, errMsg := m.dispatch(op, req.Variables)
	if errMsg != "" {
		writeJSON(w, http.StatusOK, map[string]any{
			"data":   nil,
			"errors": []map[string]any{{"message": errMsg, "extensions": map[string]string{"code": "INVALID_INPUT"}}},
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": data})
}

func (m *MockServer) dispatch(op string, vars map[string]any) (any, string) {
	str := func(k string) string {
		s, _ := vars[k].(string)
		return s
	}
	input, _ := vars["input"].(map[string]any)
	filter, _ := vars["filter"].(map[string]any)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	switch op {
	case "Issues":
		var matched []*Issue
		for _, i := range m.issues {
			if issueMatches(i, filter) {
				matched = append(matched, i)
			}
		}
		nodes, info := m.page(len(matched), str("after"))
		return map[string]any{"issues": map[string]any{"nodes": matched[nodes[0]:nodes[1]], "pageInfo": info}}, ""

	case "Relations":
		var matched []*Issue
		for _, i := range m.issues {
			if issueMatches(i, filter) {
				matched = append(matched, i)
			}
		}
		nodes, info := m.page(len(matched), str("after"))
		var out []map[string]any
		for _, i := range matched[nodes[0]:nodes[1]] {
			rels := m.relations[i.ID]
			if rels == nil {
				rels = []IssueRelation{}
			}
			out = append(out, map[string]any{"relations": map[string]any{"nodes": rels}})
		}
		return map[string]any{"issues": map[string]any{"nodes": out, "pageInfo": info}}, ""

	case "Issue":
		return map[string]any{"issue": m.findIssue(str("id"))}, ""

	case "Projects":
		var matched []*Project
		for _, p := range m.projects {
			if since, ok := gte(filter); !ok || !p.UpdatedAt.Before(since) {
				matched = append(matched, p)
			}
		}
		nodes, info := m.page(len(matched), str("after"))
		return map[string]any{"projects": map[string]any{"nodes": matched[nodes[0]:nodes[1]], "pageInfo": info}}, ""

	case "Project":
		return map[string]any{"project": m.findProject(str("id"))}, ""

	case "Comments":
		all := m.comments[str("id")]
		nodes, info := m.page(len(all), str("after"))
		page := all[nodes[0]:nodes[1]]
		if page == nil {
			page = []Comment{}
		}
		return map[string]any{"issue": map[string]any{"comments": map[string]any{"nodes": page, "pageInfo": info}}}, ""

	case "Attachments":
		atts := m.attachments[str("id")]
		if atts == nil {
			atts = []Attachment{}
		}
		return map[string]any{"issue": map[string]any{"attachments": map[string]any{"nodes": atts}}}, ""

	case "AttachmentsForURL":
		out := []Attachment{}
		for issueID, atts := range m.attachments {
			for _, a := range atts {
				if a.URL == str("url") {
					a.Issue = m.findIssue(issueID)
					out = append(out, a)
				}
			}
		}
		return map[string]any{"attachmentsForURL": map[string]any{"nodes": out}}, ""

	case "ProjectLinks":
		links := m.links[str("id")]
		if links == nil {
			links = []ProjectLink{}
		}
		return map[string]any{"project": map[string]any{"links": map[string]any{"nodes": links}}}, ""

	case "Team":
		if !strings.EqualFold(str("key"), m.team.Key) {
			return map[string]any{"teams": map[string]any{"nodes": []Team{}}}, ""
		}
		return map[string]any{"teams": map[string]any{"nodes": []Team{m.team}}}, ""

	case "ProjectStatuses":
		return map[string]any{"projectStatuses": map[string]any{"nodes": m.statuses}}, ""

	case "Users":
		out := []User{}
		for _, u := range m.users {
			if strings.EqualFold(u.Email, str("email")) {
				out = append(out, u)
			}
		}
		return map[string]any{"users": map[string]any{"nodes": out}}, ""

	case "Viewer":
		return map[string]any{"viewer": m.viewer}, ""

	case "IssueCreate":
		n := len(m.issues) + 1
		i := &Issue{
			ID:         fmt.Sprintf("iss-%d", n),
			Identifier: fmt.Sprintf("ENG-%d", n),
			URL:        fmt.Sprintf("https://linear.app/acme/issue/ENG-%d", n),
			Team:       Team{ID: m.team.ID, Key: m.team.Key},
			UpdatedAt:  now,
		}
		m.applyIssue(i, input)
		m.issues = append(m.issues, i)
		return map[string]any{"issueCreate": map[string]any{"success": true, "issue": i}}, ""

	case "IssueUpdate":
		i := m.findIssue(str("id"))
		if i == nil {
			return nil, "Entity not found"
		}
		m.applyIssue(i, input)
		i.UpdatedAt = now
		return map[string]any{"issueUpdate": map[string]any{"success": true, "issue": i}}, ""

	case "ProjectCreate":
		n := len(m.projects) + 1
		p := &Project{
			ID:        fmt.Sprintf("prj-%d", n),
			SlugID:    fmt.Sprintf("slug%d", n),
			URL:       fmt.Sprintf("https://linear.app/acme/project/slug%d", n),
			UpdatedAt: now,
		}
		m.applyProject(p, input)
		m.projects = append(m.projects, p)
		return map[string]any{"projectCreate": map[string]any{"success": true, "project": p}}, ""

	case "ProjectUpdate":
		p := m.findProject(str("id"))
		if p == nil {
			return nil, "Entity not found"
		}
		m.applyProject(p, input)
		p.UpdatedAt = now
		return map[string]any{"projectUpdate": map[string]any{"success": true, "project": p}}, ""

	case "CommentCreate":
		issueID, _ := input["issueId"].(string)
		body, _ := input["body"].(string)
		c := Comment{
			ID:        fmt.Sprintf("cmt-%s-%d", issueID, len(m.comments[issueID])+1),
			Body:      body,
			CreatedAt: now,
			UpdatedAt: now,
			User:      &m.viewer,
		}
		m.comments[issueID] = append(m.comments[issueID], c)
		return map[string]any{"commentCreate": map[string]any{"success": true, "comment": c}}, ""

	case "CommentUpdate":
		body, _ := input["body"].(string)
		for issueID := range m.comments {
			for k := range m.comments[issueID] {
				if m.comments[issueID][k].ID == str("id") {
					m.comments[issueID][k].Body = body
					m.comments[issueID][k].UpdatedAt = now
					return map[string]any{"commentUpdate": map[string]any{"success": true}}, ""
				}
			}
		}
		return nil, "Entity not found"

	case "AttachmentCreate":
		issueID, _ := input["issueId"].(string)
		a := Attachment{ID: "att-" + strconv.Itoa(len(m.attachments[issueID])+1)}
		a.URL, _ = input["url"].(string)
		a.Title, _ = input["title"].(string)
		a.Metadata, _ = json.Marshal(input["metadata"])
		m.attachments[issueID] = append(m.attachments[issueID], a)
		return map[string]any{"attachmentCreate": map[string]any{"success": true}}, ""

	case "ProjectLinkCreate":
		projectID, _ := input["projectId"].(string)
		l := ProjectLink{ID: "lnk-" + strconv.Itoa(len(m.links[projectID])+1)}
		l.URL, _ = input["url"].(string)
		l.Label, _ = input["label"].(string)
		m.links[projectID] = append(m.links[projectID], l)
		return map[string]any{"projectLinkCreate": map[string]any{"success": true}}, ""
	}
	return nil, "unknown operation " + op
}

// page returns the [start, end) window for cursor after plus its page info.
func (m *MockServer) page(total int, after string) ([2]int, PageInfo) {
	start := 0
	if after != "" {
		start, _ = strconv.Atoi(strings.TrimPrefix(after, "cur-"))
	}
	end := total
	if m.PageSize > 0 && start+m.PageSize < end {
		end = start + m.PageSize
	}
	info := PageInfo{HasNextPage: end < total}
	if info.HasNextPage {
		info.EndCursor = fmt.Sprintf("cur-%d", end)
	}
	return [2]int{start, end}, info
}

func (m *MockServer) findIssue(id string) *Issue {
	for _, i := range m.issues {
		if i.ID == id || i.Identifier == id {
			return i
		}
	}
	return nil
}

func (m *MockServer) findProject(id string) *Project {
	for _, p := range m.projects {
		if p.ID == id || p.SlugID == id {
			return p
		}
	}
	return nil
}

func (m *MockServer) applyIssue(i *Issue, input map[string]any) {
	if v, ok := input["title"].(string); ok {
		i.Title = v
	}
	if v, ok := input["description"].(string); ok {
		i.Description = v
	}
	if v, ok := input["assigneeId"]; ok {
		i.Assignee = nil
		for k := range m.users {
			if m.users[k].ID == v {
				u := m.users[k]
				i.Assignee = &u
			}
		}
	}
	if v, ok := input["projectId"].(string); ok {
		i.Project = &ProjectRef{ID: v}
	}
	if v, ok := input["stateId"].(string); ok {
		for _, s := range m.team.States.Nodes {
			if s.ID == v {
				s := s
				i.State = &s
			}
		}
	}
}

func (m *MockServer) applyProject(p *Project, input map[string]any) {
	if v, ok := input["name"].(string); ok {
		p.Name = v
	}
	if v, ok := input["content"].(string); ok {
		p.Content = v
	}
	if v, ok := input["statusId"].(string); ok {
		for _, s := range m.statuses {
			if s.ID == v {
				s := s
				p.Status = &s
			}
		}
	}
}

func issueMatches(i *Issue, filter map[string]any) bool {
	if team, ok := filter["team"].(map[string]any); ok {
		key, _ := team["key"].(map[string]any)
		if eq, _ := key["eq"].(string); !strings.EqualFold(eq, i.Team.Key) {
			return false
		}
	}
	if since, ok := gte(filter); ok && i.UpdatedAt.Before(since) {
		return false
	}
	if d, ok := filter["description"].(map[string]any); ok {
		if c, _ := d["contains"].(string); !strings.Contains(i.Description, c) {
			return false
		}
	}
	return true
}

func gte(filter map[string]any) (time.Time, bool) {
	u, ok := filter["updatedAt"].(map[string]any)
	if !ok {
		return time.Time{}, false
	}
	s, _ := u["gte"].(string)
	t, err := time.Parse(time.RFC3339Nano, s)
	return t, err == nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
