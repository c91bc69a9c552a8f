package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"loja/backend/internal/domain"
	"loja/backend/internal/report"
	"loja/backend/internal/service"
	"loja/backend/internal/store"
	"loja/backend/internal/upload"
)

const photoUploadLimit = upload.MaxSize + 1<<20

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	if expiresAt, err := time.Parse(time.RFC3339, resp.ExpiresAt); err == nil {
		a.setSessionCookie(w, resp.AccessToken, expiresAt)
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCSRFToken returns a stateless CSRF token valid for the current hour bucket.
// Clients must include this token in the X-CSRF-Token header for all mutating requests.
func (a *API) handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"csrf_token": a.generateCSRFToken(),
	})
}

// handleLogout ends the session and drops its cart.
func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	actor, _ := service.ActorFromContext(r.Context())
	if err := a.service.ClearCart(r.Context(), actor.SessionID); err != nil {
		a.logger.Warn("failed to clear cart on logout", zap.String("session", actor.SessionID), zap.Error(err))
	}
	a.auth.Logout(actor)
	a.clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	actor, _ := service.ActorFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"username": actor.Username,
		"role":     actor.Role,
	})
}

func (a *API) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := a.service.ListProducts(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	product, err := a.service.CreateProduct(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"product": product})
}

func (a *API) handleSearchProducts(w http.ResponseWriter, r *http.Request) {
	actor, _ := service.ActorFromContext(r.Context())
	results, err := a.service.SearchProducts(r.Context(), actor.SessionID, r.URL.Query().Get("q"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": results})
}

func (a *API) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	product, err := a.service.GetProduct(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": product})
}

func (a *API) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req domain.ProductRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	product, err := a.service.UpdateProduct(r.Context(), id, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": product})
}

func (a *API) handleDeleteProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	product, err := a.service.GetProduct(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if err := a.service.DeleteProduct(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}
	if a.productPhotos != nil {
		a.dropPhoto(a.productPhotos, product.Photo, "")
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleAdjustStock(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req domain.StockAdjustRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	product, err := a.service.AdjustStock(r.Context(), id, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": product})
}

func (a *API) handleProductPhotoUpload(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	current, err := a.service.GetProduct(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	ref, ok := a.savePhoto(w, r, a.productPhotos)
	if !ok {
		return
	}
	product, err := a.service.SetProductPhoto(r.Context(), id, ref)
	if err != nil {
		_ = a.productPhotos.Remove(ref)
		writeServiceError(w, err)
		return
	}
	a.dropPhoto(a.productPhotos, current.Photo, ref)
	writeJSON(w, http.StatusOK, map[string]any{"product": product})
}

func (a *API) handleProductPhoto(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	product, err := a.service.GetProduct(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	a.servePhoto(w, r, a.productPhotos, product.Photo)
}

func (a *API) handleListCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := a.service.ListCustomers(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"customers": customers})
}

func (a *API) handleCreateCustomer(w http.ResponseWriter, r *http.Request) {
	var req domain.CustomerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	customer, err := a.service.CreateCustomer(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"customer": customer})
}

func (a *API) handleGetCustomer(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	customer, err := a.service.GetCustomer(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"customer": customer})
}

func (a *API) handleUpdateCustomer(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req domain.CustomerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	customer, err := a.service.UpdateCustomer(r.Context(), id, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"customer": customer})
}

func (a *API) handleDeleteCustomer(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	customer, err := a.service.GetCustomer(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if err := a.service.DeleteCustomer(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}
	if a.customerPhotos != nil {
		a.dropPhoto(a.customerPhotos, customer.Photo, "")
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleCustomerHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	history, err := a.service.CustomerHistory(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": history})
}

func (a *API) handleCustomerPhotoUpload(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	current, err := a.service.GetCustomer(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	ref, ok := a.savePhoto(w, r, a.customerPhotos)
	if !ok {
		return
	}
	customer, err := a.service.SetCustomerPhoto(r.Context(), id, ref)
	if err != nil {
		_ = a.customerPhotos.Remove(ref)
		writeServiceError(w, err)
		return
	}
	a.dropPhoto(a.customerPhotos, current.Photo, ref)
	writeJSON(w, http.StatusOK, map[string]any{"customer": customer})
}

func (a *API) handleCustomerPhoto(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	customer, err := a.service.GetCustomer(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	a.servePhoto(w, r, a.customerPhotos, customer.Photo)
}

func (a *API) handleListCombos(w http.ResponseWriter, r *http.Request) {
	combos, err := a.service.ListCombos(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"combos": combos})
}

func (a *API) handleCreateCombo(w http.ResponseWriter, r *http.Request) {
	var req domain.ComboRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	combo, err := a.service.CreateCombo(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"combo": combo})
}

func (a *API) handleSearchCombos(w http.ResponseWriter, r *http.Request) {
	results, err := a.service.SearchCombos(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"combos": results})
}

func (a *API) handleGetCombo(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	detail, err := a.service.GetCombo(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (a *API) handleUpdateCombo(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req domain.ComboRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	combo, err := a.service.UpdateCombo(r.Context(), id, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"combo": combo})
}

func (a *API) handleDeleteCombo(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := a.service.DeleteCombo(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleGetCart(w http.ResponseWriter, r *http.Request) {
	actor, _ := service.ActorFromContext(r.Context())
	view, err := a.service.CartView(r.Context(), actor.SessionID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleAddToCart(w http.ResponseWriter, r *http.Request) {
	actor, _ := service.ActorFromContext(r.Context())
	var req domain.CartAddRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	view, err := a.service.AddToCart(r.Context(), actor.SessionID, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleRemoveFromCart(w http.ResponseWriter, r *http.Request) {
	actor, _ := service.ActorFromContext(r.Context())
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	view, err := a.service.RemoveFromCart(r.Context(), actor.SessionID, chi.URLParam(r, "kind"), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleClearCart(w http.ResponseWriter, r *http.Request) {
	actor, _ := service.ActorFromContext(r.Context())
	if err := a.service.ClearCart(r.Context(), actor.SessionID); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleFinalize(w http.ResponseWriter, r *http.Request) {
	actor, _ := service.ActorFromContext(r.Context())
	var req domain.FinalizeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	tx, err := a.service.Finalize(r.Context(), actor.SessionID, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"transaction": tx})
}

func (a *API) handleSaveQuote(w http.ResponseWriter, r *http.Request) {
	actor, _ := service.ActorFromContext(r.Context())
	var req domain.QuoteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	tx, err := a.service.SaveQuote(r.Context(), actor.SessionID, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"transaction": tx})
}

func (a *API) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := store.TransactionFilter{
		Kind:   strings.TrimSpace(query.Get("kind")),
		Status: strings.TrimSpace(query.Get("status")),
		Order:  strings.TrimSpace(query.Get("order")),
		Limit:  parsePositiveLimit(query.Get("limit"), 200, 1000),
	}
	switch filter.Order {
	case "", store.OrderNewest, store.OrderOldest, store.OrderStartDate:
	default:
		writeError(w, http.StatusBadRequest, errors.New("order must be newest, oldest or start_date"))
		return
	}
	if raw := strings.TrimSpace(query.Get("customer_id")); raw != "" {
		id, err := parseID(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.New("invalid customer_id"))
			return
		}
		filter.CustomerID = id
	}
	var err error
	if filter.From, err = parseDay(query.Get("from")); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("from must be YYYY-MM-DD"))
		return
	}
	if filter.To, err = parseDay(query.Get("to")); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("to must be YYYY-MM-DD"))
		return
	}
	if !filter.To.IsZero() {
		filter.To = filter.To.AddDate(0, 0, 1)
	}

	txs, err := a.service.ListTransactions(r.Context(), filter)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": txs})
}

func (a *API) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	tx, err := a.service.GetTransaction(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transaction": tx})
}

func (a *API) handleUpdateTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req domain.TransactionUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	tx, err := a.service.UpdateTransaction(r.Context(), id, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transaction": tx})
}

func (a *API) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := a.service.DeleteTransaction(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleFinishRental(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	tx, err := a.service.FinishRental(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transaction": tx})
}

func (a *API) handleRentalAgenda(w http.ResponseWriter, r *http.Request) {
	agenda, err := a.service.RentalAgenda(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agenda)
}

func (a *API) handleDashboard(w http.ResponseWriter, r *http.Request) {
	dashboard, err := a.service.Dashboard(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dashboard)
}

func (a *API) handleMonthlyReport(w http.ResponseWriter, r *http.Request) {
	format := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))
	if format == "" {
		format = report.FormatJSON
	}

	monthly, err := a.service.MonthlyReport(r.Context(), r.URL.Query().Get("month"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	filename := "report_" + monthly.Month
	switch format {
	case report.FormatJSON:
		writeJSON(w, http.StatusOK, monthly)
	case report.FormatCSV:
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename+".csv"))
		if err := report.WriteCSV(w, monthly); err != nil {
			a.logger.Error("failed to write csv report", zap.Error(err))
		}
	case report.FormatXLSX:
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename+".xlsx"))
		if err := report.WriteXLSX(w, monthly); err != nil {
			a.logger.Error("failed to write xlsx report", zap.Error(err))
		}
	default:
		writeError(w, http.StatusBadRequest, errors.New("format must be json, csv or xlsx"))
	}
}

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"users": a.auth.ListUsers(r.Context())})
}

func (a *API) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req domain.UserCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	user, err := a.auth.CreateUser(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"user": user})
}

func (a *API) handleListBackups(w http.ResponseWriter, r *http.Request) {
	if !a.requireBackups(w) {
		return
	}
	files, err := a.backups.List()
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"backups": files})
}

func (a *API) handleCreateBackup(w http.ResponseWriter, r *http.Request) {
	if !a.requireBackups(w) {
		return
	}
	file, err := a.backups.Create(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"backup": file})
}

func (a *API) handleRestoreBackup(w http.ResponseWriter, r *http.Request) {
	if !a.requireBackups(w) {
		return
	}
	name := chi.URLParam(r, "name")
	if err := a.backups.Restore(r.Context(), name); err != nil {
		writeServiceError(w, err)
		return
	}
	if err := a.service.ResetCarts(r.Context()); err != nil {
		a.logger.Warn("failed to drop carts after restore", zap.Error(err))
	}
	actor, _ := service.ActorFromContext(r.Context())
	a.logger.Info("backup restored", zap.String("actor", actor.Username), zap.String("file", name))
	writeJSON(w, http.StatusOK, map[string]any{"restored": name})
}

func (a *API) handleWipe(w http.ResponseWriter, r *http.Request) {
	if err := a.service.Wipe(r.Context()); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) requireBackups(w http.ResponseWriter) bool {
	if a.backups == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("backups are not configured"))
		return false
	}
	return true
}

// savePhoto stores the "photo" form file and returns its reference.
func (a *API) savePhoto(w http.ResponseWriter, r *http.Request, photos PhotoStorage) (string, bool) {
	if photos == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("photo uploads are not configured"))
		return "", false
	}
	file, header, err := r.FormFile("photo")
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("photo file is required"))
		return "", false
	}
	defer file.Close()

	ref, err := photos.Save(header.Filename, file)
	if err != nil {
		writeServiceError(w, err)
		return "", false
	}
	return ref, true
}

func (a *API) dropPhoto(photos PhotoStorage, previous string, current string) {
	if previous == "" || previous == current {
		return
	}
	if err := photos.Remove(previous); err != nil {
		a.logger.Warn("failed to remove replaced photo", zap.String("ref", previous), zap.Error(err))
	}
}

func (a *API) servePhoto(w http.ResponseWriter, r *http.Request, photos PhotoStorage, ref string) {
	if photos == nil || ref == "" {
		writeError(w, http.StatusNotFound, errors.New("no photo"))
		return
	}
	f, err := photos.Open(ref)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		writeServiceError(w, err)
		return
	}
	http.ServeContent(w, r, filepath.Base(ref), info.ModTime(), f)
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return 0, false
	}
	return id, true
}

func parseDay(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse("2006-01-02", raw)
}
