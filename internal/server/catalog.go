package server

import (
	"net/http"
	"strings"

	"libris/pkg/domain"
)

type bookRequest struct {
	Title             string `json:"title"`
	AuthorID          string `json:"authorId"`
	CategoryID        string `json:"categoryId"`
	StockNumber       int    `json:"stockNumber"`
	YearOfPublication int    `json:"yearOfPublication"`
}

func (s *Server) handleBooks(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodGet:
		books, err := s.app.ListBooks()
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, books)
	case http.MethodPost:
		if user.Role != domain.RoleAdmin {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		var req bookRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		book, err := s.app.CreateBook(req.Title, req.AuthorID, req.CategoryID, req.StockNumber, req.YearOfPublication)
		if err != nil {
			writeAppError(w, err)
			return
		}
		s.audit(r, "catalog.book.create", "success", "book_id", book.ID, "user_id", user.ID)
		writeJSON(w, http.StatusCreated, book)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleBookByID(w http.ResponseWriter, r *http.Request, user domain.User) {
	id := strings.TrimPrefix(r.URL.Path, "/api/books/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		book, ok, err := s.app.GetBook(id)
		if err != nil {
			writeAppError(w, err)
			return
		}
		if !ok {
			writeError(w, http.StatusNotFound, domain.ErrBookNotFound.Error())
			return
		}
		writeJSON(w, http.StatusOK, book)
	case http.MethodPut:
		if user.Role != domain.RoleAdmin {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		var req bookRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		book, err := s.app.UpdateBook(id, req.Title, req.AuthorID, req.CategoryID, req.StockNumber, req.YearOfPublication)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, book)
	case http.MethodDelete:
		if user.Role != domain.RoleAdmin {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		if err := s.app.DeleteBook(id); err != nil {
			writeAppError(w, err)
			return
		}
		s.audit(r, "catalog.book.delete", "success", "book_id", id, "user_id", user.ID)
		writeJSON(w, http.StatusOK, map[string]string{"message": "deleted"})
	default:
		methodNotAllowed(w)
	}
}

// namedResource abstracts the author and category collections, which
// share the same id+name shape; one handler pair serves both.
type namedResource struct {
	save func(id, name string) (any, error)
	get  func(id string) (any, bool, error)
	list func() (any, error)
	del  func(id string) error
}

func (s *Server) authorResource() namedResource {
	return namedResource{
		save: func(id, name string) (any, error) { return s.app.SaveAuthor(id, name) },
		get: func(id string) (any, bool, error) {
			a, ok, err := s.app.GetAuthor(id)
			return a, ok, err
		},
		list: func() (any, error) { return s.app.ListAuthors() },
		del:  s.app.DeleteAuthor,
	}
}

func (s *Server) categoryResource() namedResource {
	return namedResource{
		save: func(id, name string) (any, error) { return s.app.SaveCategory(id, name) },
		get: func(id string) (any, bool, error) {
			c, ok, err := s.app.GetCategory(id)
			return c, ok, err
		},
		list: func() (any, error) { return s.app.ListCategories() },
		del:  s.app.DeleteCategory,
	}
}

type namedRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleNamedCollection(res namedResource) authHandler {
	return func(w http.ResponseWriter, r *http.Request, user domain.User) {
		switch r.Method {
		case http.MethodGet:
			items, err := res.list()
			if err != nil {
				writeAppError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, items)
		case http.MethodPost:
			if user.Role != domain.RoleAdmin {
				writeError(w, http.StatusForbidden, "forbidden")
				return
			}
			var req namedRequest
			if err := decodeJSON(r, &req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid JSON body")
				return
			}
			item, err := res.save("", req.Name)
			if err != nil {
				writeAppError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, item)
		default:
			methodNotAllowed(w)
		}
	}
}

func (s *Server) handleNamedItem(prefix string, res namedResource) authHandler {
	return func(w http.ResponseWriter, r *http.Request, user domain.User) {
		id := strings.TrimPrefix(r.URL.Path, prefix)
		if id == "" || strings.Contains(id, "/") {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		switch r.Method {
		case http.MethodGet:
			item, ok, err := res.get(id)
			if err != nil {
				writeAppError(w, err)
				return
			}
			if !ok {
				writeError(w, http.StatusNotFound, "not found")
				return
			}
			writeJSON(w, http.StatusOK, item)
		case http.MethodPut:
			if user.Role != domain.RoleAdmin {
				writeError(w, http.StatusForbidden, "forbidden")
				return
			}
			var req namedRequest
			if err := decodeJSON(r, &req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid JSON body")
				return
			}
			item, err := res.save(id, req.Name)
			if err != nil {
				writeAppError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, item)
		case http.MethodDelete:
			if user.Role != domain.RoleAdmin {
				writeError(w, http.StatusForbidden, "forbidden")
				return
			}
			if err := res.del(id); err != nil {
				writeAppError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"message": "deleted"})
		default:
			methodNotAllowed(w)
		}
	}
}

type userRequest struct {
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Role     string `json:"role"`
}

func (s *Server) handleAdminUsers(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	users, err := s.app.ListUsers()
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) handleAdminUserByID(w http.ResponseWriter, r *http.Request, admin domain.User) {
	id := strings.TrimPrefix(r.URL.Path, "/api/admin/users/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		user, ok, err := s.app.GetUser(id)
		if err != nil {
			writeAppError(w, err)
			return
		}
		if !ok {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		writeJSON(w, http.StatusOK, user)
	case http.MethodPut:
		var req userRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		user, err := s.app.UpdateUser(id, req.FullName, req.Email, domain.UserRole(req.Role))
		if err != nil {
			writeAppError(w, err)
			return
		}
		s.audit(r, "admin.user.update", "success", "user_id", id, "admin_id", admin.ID)
		writeJSON(w, http.StatusOK, user)
	case http.MethodDelete:
		if id == admin.ID {
			writeError(w, http.StatusBadRequest, "cannot delete own account")
			return
		}
		if err := s.app.DeleteUser(id); err != nil {
			writeAppError(w, err)
			return
		}
		s.audit(r, "admin.user.delete", "success", "user_id", id, "admin_id", admin.ID)
		writeJSON(w, http.StatusOK, map[string]string{"message": "deleted"})
	default:
		methodNotAllowed(w)
	}
}
