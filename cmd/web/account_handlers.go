package main

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"finitefield.org/storefront/internal/checkout"
	"finitefield.org/storefront/internal/commerce"
	mw "finitefield.org/storefront/internal/middleware"
	"finitefield.org/storefront/internal/platform/requestctx"
)

const accountHome = "/my-pages"

// LoginView is the sign-in form.
type LoginView struct {
	Lang     string
	CSRF     string
	Email    string
	Redirect string
	Error    string
}

// LoginHandler renders the sign-in form.
func (s *server) LoginHandler(w http.ResponseWriter, r *http.Request) {
	target := mw.SafeRedirect(r.URL.Query().Get(mw.RedirectParam))
	if requestctx.AuthToken(r.Context()) != "" {
		if target == "/" {
			target = accountHome
		}
		http.Redirect(w, r, target, http.StatusSeeOther)
		return
	}
	view := LoginView{Lang: mw.Lang(r), CSRF: mw.CSRFToken(r), Redirect: target}
	vm := s.pageData(r, "login.title", view)
	vm.SEO.Robots = "noindex"
	s.renderPage(w, r, "login", vm)
}

// LoginSubmitHandler exchanges credentials for a token and returns to the page that asked for it.
func (s *server) LoginSubmitHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	lang := mw.Lang(r)
	email := strings.TrimSpace(r.PostFormValue("email"))
	password := r.PostFormValue("password")
	target := mw.SafeRedirect(r.PostFormValue(mw.RedirectParam))

	view := LoginView{Lang: lang, CSRF: mw.CSRFToken(r), Email: email, Redirect: target}
	if email == "" || password == "" {
		view.Error = s.bundle.T(lang, "login.errors.missing")
		s.renderLoginFailure(w, r, view)
		return
	}
	token, err := s.backend.Login(r.Context(), email, password)
	if err != nil {
		requestctx.Logger(r.Context()).Info("login rejected", zap.Error(err))
		view.Error = s.bundle.T(lang, "login.errors.invalid")
		s.renderLoginFailure(w, r, view)
		return
	}

	s.auth.SetToken(w, token)
	sess := mw.GetSession(r)
	sess.RegenerateID()
	sess.Email = email
	sess.MarkDirty()
	if target == "/" {
		target = accountHome
	}
	mw.Redirect(w, r, target)
}

func (s *server) renderLoginFailure(w http.ResponseWriter, r *http.Request, view LoginView) {
	vm := s.pageData(r, "login.title", view)
	vm.SEO.Robots = "noindex"
	s.renderPageStatus(w, r, http.StatusUnprocessableEntity, "login", vm)
}

// LogoutHandler drops the token and rotates the session.
func (s *server) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	s.auth.Clear(w)
	sess := mw.GetSession(r)
	s.checkouts.Remove(sess.ID)
	sess.RegenerateID()
	sess.Email = ""
	sess.MarkDirty()
	mw.Redirect(w, r, "/")
}

// AccountView is the my-pages overview and address book.
type AccountView struct {
	Lang     string
	CSRF     string
	Customer commerce.Customer
	Form     AddressFormView
	Editing  string
}

func (s *server) accountView(r *http.Request, customer commerce.Customer) AccountView {
	lang := mw.Lang(r)
	csrf := mw.CSRFToken(r)
	return AccountView{
		Lang:     lang,
		CSRF:     csrf,
		Customer: customer,
		Form: AddressFormView{
			Lang:      lang,
			CSRF:      csrf,
			ID:        "new-address",
			Action:    "/my-pages/addresses",
			SubmitKey: "account.addresses.add",
		},
	}
}

// AccountHandler renders the account overview.
func (s *server) AccountHandler(w http.ResponseWriter, r *http.Request) {
	me, err := s.backend.Me(r.Context())
	if err != nil {
		s.handleBackendError(w, r, err)
		return
	}
	vm := s.pageData(r, "account.title", s.accountView(r, me))
	vm.SEO.Robots = "noindex, nofollow"
	s.renderPage(w, r, "account", vm)
}

// AddressesHandler renders the address book.
func (s *server) AddressesHandler(w http.ResponseWriter, r *http.Request) {
	me, err := s.backend.Me(r.Context())
	if err != nil {
		s.handleBackendError(w, r, err)
		return
	}
	view := s.accountView(r, me)
	if id := r.URL.Query().Get("edit"); id != "" {
		for _, a := range me.Addresses {
			if a.ID == id {
				editAddress(&view, id)
				view.Form.Values = a.Address
				break
			}
		}
	}
	s.renderAddresses(w, r, http.StatusOK, view)
}

func editAddress(view *AccountView, id string) {
	view.Editing = id
	view.Form.ID = "address-" + id
	view.Form.Action = "/my-pages/addresses/" + id
	view.Form.SubmitKey = "account.addresses.save"
}

func (s *server) renderAddresses(w http.ResponseWriter, r *http.Request, status int, view AccountView) {
	vm := s.pageData(r, "account.addresses.title", view)
	vm.SEO.Robots = "noindex, nofollow"
	s.renderPageStatus(w, r, status, "addresses", vm)
}

// AddressCreateHandler adds an address to the book.
func (s *server) AddressCreateHandler(w http.ResponseWriter, r *http.Request) {
	s.saveAddress(w, r, "")
}

// AddressUpdateHandler replaces a saved address.
func (s *server) AddressUpdateHandler(w http.ResponseWriter, r *http.Request) {
	s.saveAddress(w, r, chiParam(r, "id"))
}

func (s *server) saveAddress(w http.ResponseWriter, r *http.Request, id string) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	addr := checkout.ParseAddressForm(r.PostForm, "")
	if errs := checkout.ValidateAddress(addr); len(errs) > 0 {
		me, err := s.backend.Me(r.Context())
		if err != nil {
			s.handleBackendError(w, r, err)
			return
		}
		view := s.accountView(r, me)
		view.Form.Values = addr
		view.Form.Errors = translateFieldErrors(s.bundle, view.Lang, errs)
		if id != "" {
			editAddress(&view, id)
		}
		s.renderAddresses(w, r, http.StatusUnprocessableEntity, view)
		return
	}

	var err error
	if id == "" {
		_, err = s.backend.AddAddress(r.Context(), addr)
	} else {
		_, err = s.backend.UpdateAddress(r.Context(), id, addr)
	}
	if err != nil {
		s.handleBackendError(w, r, err)
		return
	}
	mw.Redirect(w, r, "/my-pages/addresses")
}

// AddressDeleteHandler removes a saved address.
func (s *server) AddressDeleteHandler(w http.ResponseWriter, r *http.Request) {
	if _, err := s.backend.RemoveAddress(r.Context(), chiParam(r, "id")); err != nil {
		s.handleBackendError(w, r, err)
		return
	}
	mw.Redirect(w, r, "/my-pages/addresses")
}
