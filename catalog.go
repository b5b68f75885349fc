package lmsauth

import (
	"errors"
	"net/http"
	"sort"

	"github.com/gorilla/mux"
)

// Class is a school class students sign up into
type Class struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Course struct {
	ID      string `json:"id"`
	ClassID string `json:"class_id"`
	Title   string `json:"title"`
}

type Chapter struct {
	ID       string `json:"id"`
	CourseID string `json:"course_id"`
	Title    string `json:"title"`
	Position int    `json:"position"`
}

type Subsection struct {
	ID        string `json:"id"`
	ChapterID string `json:"chapter_id"`
	Title     string `json:"title"`
	Position  int    `json:"position"`
}

type Content struct {
	ID           string `json:"id"`
	SubsectionID string `json:"subsection_id"`
	Kind         string `json:"kind"` // video, pdf, text
	Title        string `json:"title"`
	Body         string `json:"body,omitempty"`
}

// Catalog serves read-only course material from memory. Everything except
// the class list requires a bearer token.
type Catalog struct {
	Classes     []Class
	Courses     []Course
	Chapters    []Chapter
	Subsections []Subsection
	Contents    []Content

	// Users backs /students/me
	Users UserStore
}

// SampleCatalog returns a small fixture for development and tests
func SampleCatalog() *Catalog {
	return &Catalog{
		Classes: []Class{
			{ID: "c10", Name: "Class 10"},
			{ID: "c11", Name: "Class 11"},
		},
		Courses: []Course{
			{ID: "math-10", ClassID: "c10", Title: "Mathematics"},
			{ID: "phys-10", ClassID: "c10", Title: "Physics"},
			{ID: "chem-11", ClassID: "c11", Title: "Chemistry"},
		},
		Chapters: []Chapter{
			{ID: "math-10-1", CourseID: "math-10", Title: "Real Numbers", Position: 1},
			{ID: "math-10-2", CourseID: "math-10", Title: "Polynomials", Position: 2},
			{ID: "phys-10-1", CourseID: "phys-10", Title: "Light", Position: 1},
		},
		Subsections: []Subsection{
			{ID: "math-10-1-a", ChapterID: "math-10-1", Title: "Euclid's Division Lemma", Position: 1},
			{ID: "math-10-1-b", ChapterID: "math-10-1", Title: "Irrational Numbers", Position: 2},
			{ID: "phys-10-1-a", ChapterID: "phys-10-1", Title: "Reflection", Position: 1},
		},
		Contents: []Content{
			{ID: "v1", SubsectionID: "math-10-1-a", Kind: "video", Title: "Lemma walkthrough"},
			{ID: "t1", SubsectionID: "math-10-1-b", Kind: "text", Title: "Proof that root 2 is irrational",
				Body: "Assume root 2 is rational..."},
		},
	}
}

// Register mounts the catalog routes. protect wraps every route that needs
// a bearer token; optional wraps the public class list.
func (c *Catalog) Register(r *mux.Router, protect, optional func(http.Handler) http.Handler) {
	r.Handle("/classes/list", optional(http.HandlerFunc(c.handleClasses))).Methods(http.MethodGet)

	r.Handle("/courses/list", protect(http.HandlerFunc(c.handleCourses))).Methods(http.MethodGet)
	r.Handle("/courses/{id}", protect(http.HandlerFunc(c.handleCourse))).Methods(http.MethodGet)
	r.Handle("/chapters/list", protect(http.HandlerFunc(c.handleChapters))).Methods(http.MethodGet)
	r.Handle("/subsections/list", protect(http.HandlerFunc(c.handleSubsections))).Methods(http.MethodGet)
	r.Handle("/contents/{id}", protect(http.HandlerFunc(c.handleContent))).Methods(http.MethodGet)
	r.Handle("/students/me", protect(http.HandlerFunc(c.handleMe))).Methods(http.MethodGet)
}

// handleClasses is public. A signed-in student also gets their own class id.
func (c *Catalog) handleClasses(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"classes": c.Classes}
	if username := UsernameFromContext(r.Context()); username != "" && c.Users != nil &&
		RoleFromContext(r.Context()) == RoleStudent {
		if user, err := c.Users.GetUserByUsername(username); err == nil && user.ClassID != "" {
			body["my_class_id"] = user.ClassID
		}
	}
	jsonResponse(w, http.StatusOK, body)
}

// handleCourses lists every course, or only those of ?classId=
func (c *Catalog) handleCourses(w http.ResponseWriter, r *http.Request) {
	classID := r.URL.Query().Get("classId")
	courses := filter(c.Courses, func(x Course) bool { return classID == "" || x.ClassID == classID })
	jsonResponse(w, http.StatusOK, map[string]any{"courses": courses})
}

func (c *Catalog) handleCourse(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	for _, course := range c.Courses {
		if course.ID == id {
			jsonResponse(w, http.StatusOK, course)
			return
		}
	}
	errorResponse(w, "not_found", "course not found", http.StatusNotFound)
}

func (c *Catalog) handleChapters(w http.ResponseWriter, r *http.Request) {
	courseID := r.URL.Query().Get("courseId")
	if courseID == "" {
		errorResponse(w, "invalid_request", "courseId required", http.StatusBadRequest)
		return
	}
	chapters := filter(c.Chapters, func(x Chapter) bool { return x.CourseID == courseID })
	sort.Slice(chapters, func(i, j int) bool { return chapters[i].Position < chapters[j].Position })
	jsonResponse(w, http.StatusOK, map[string]any{"chapters": chapters})
}

func (c *Catalog) handleSubsections(w http.ResponseWriter, r *http.Request) {
	chapterID := r.URL.Query().Get("chapterId")
	if chapterID == "" {
		errorResponse(w, "invalid_request", "chapterId required", http.StatusBadRequest)
		return
	}
	subs := filter(c.Subsections, func(x Subsection) bool { return x.ChapterID == chapterID })
	sort.Slice(subs, func(i, j int) bool { return subs[i].Position < subs[j].Position })
	jsonResponse(w, http.StatusOK, map[string]any{"subsections": subs})
}

func (c *Catalog) handleContent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	for _, content := range c.Contents {
		if content.ID == id {
			jsonResponse(w, http.StatusOK, content)
			return
		}
	}
	errorResponse(w, "not_found", "content not found", http.StatusNotFound)
}

func (c *Catalog) handleMe(w http.ResponseWriter, r *http.Request) {
	username := UsernameFromContext(r.Context())
	if c.Users == nil {
		jsonResponse(w, http.StatusOK, map[string]any{"username": username, "role": RoleFromContext(r.Context())})
		return
	}
	user, err := c.Users.GetUserByUsername(username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			errorResponse(w, "not_found", "account not found", http.StatusNotFound)
			return
		}
		errorResponse(w, "server_error", "Failed to load profile", http.StatusInternalServerError)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]any{
		"id":        user.ID,
		"username":  user.Username,
		"email":     user.Email,
		"phone":     user.Phone,
		"full_name": user.FullName,
		"class_id":  user.ClassID,
		"role":      user.Role,
	})
}

func filter[T any](items []T, keep func(T) bool) []T {
	out := make([]T, 0, len(items))
	for _, item := range items {
		if keep(item) {
			out = append(out, item)
		}
	}
	return out
}
