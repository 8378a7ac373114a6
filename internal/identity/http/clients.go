package http

import (
	"net/http"

	"github.com/aussiebroadwan/nativeid/internal/identity/domain"
	"github.com/aussiebroadwan/nativeid/internal/identity/service"
	"github.com/aussiebroadwan/nativeid/pkg/httpx"
	"github.com/aussiebroadwan/nativeid/pkg/idsdk"
)

// ClientsHandler manages OAuth2 client registrations of the caller's tenant. The router admits
// only callers holding the elevated role.
type ClientsHandler struct {
	Clients *service.ClientService
}

// HandleCreate godoc
//
//	@Summary		Register an OAuth2 client
//	@Description	Confidential clients get an initial secret, returned only in this response.
//	@Description	Public clients have no secret and must use PKCE.
//	@Tags			Clients
//	@Accept			json
//	@Produce		json
//	@Param			body	body		idsdk.CreateClientRequest	true	"Client"
//	@Success		201		{object}	idsdk.CreatedClientResponse
//	@Failure		400		{object}	idsdk.OAuth2Error
//	@Failure		403		{object}	idsdk.OAuth2Error
//	@Security		BearerAuth
//	@Router			/v1/clients [post]
func (h *ClientsHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req idsdk.CreateClientRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		idsdk.ErrInvalidBody.WriteError(w)
		return
	}

	created, err := h.Clients.CreateClient(r.Context(), service.CreateClientRequest{
		Name:         req.Name,
		RedirectURI:  req.RedirectURI,
		TenantID:     callerFromRequest(r).TenantID,
		Confidential: req.Confidential,
		Protected:    req.Protected,
		SecretExpiry: req.SecretExpiresAt,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, createdResponse(created))
}

// HandleList godoc
//
//	@Summary		List OAuth2 clients
//	@Tags			Clients
//	@Produce		json
//	@Success		200	{array}	idsdk.Client
//	@Security		BearerAuth
//	@Router			/v1/clients [get]
func (h *ClientsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	clients, err := h.Clients.ListClients(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	tenant := callerFromRequest(r).TenantID
	out := make([]idsdk.Client, 0, len(clients))
	for _, c := range clients {
		if c.TenantID == tenant {
			out = append(out, clientResponse(c))
		}
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

// HandleGet godoc
//
//	@Summary		Get an OAuth2 client
//	@Tags			Clients
//	@Produce		json
//	@Param			id	path		string	true	"Client ID"
//	@Success		200	{object}	idsdk.Client
//	@Failure		404	{object}	idsdk.OAuth2Error
//	@Security		BearerAuth
//	@Router			/v1/clients/{id} [get]
func (h *ClientsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	c, ok := h.tenantClient(w, r)
	if !ok {
		return
	}
	httpx.WriteJSON(w, http.StatusOK, clientResponse(c))
}

// HandleUpdate godoc
//
//	@Summary		Update an OAuth2 client
//	@Tags			Clients
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string						true	"Client ID"
//	@Param			body	body		idsdk.UpdateClientRequest	true	"Changes"
//	@Success		200		{object}	idsdk.Client
//	@Failure		400		{object}	idsdk.OAuth2Error
//	@Failure		404		{object}	idsdk.OAuth2Error
//	@Security		BearerAuth
//	@Router			/v1/clients/{id} [put]
func (h *ClientsHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	var req idsdk.UpdateClientRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		idsdk.ErrInvalidBody.WriteError(w)
		return
	}
	c, ok := h.tenantClient(w, r)
	if !ok {
		return
	}

	updated, err := h.Clients.UpdateClient(r.Context(), c.ID, service.UpdateClientRequest{
		Name:        req.Name,
		RedirectURI: req.RedirectURI,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, clientResponse(updated))
}

// HandleDelete godoc
//
//	@Summary		Delete an OAuth2 client
//	@Tags			Clients
//	@Param			id	path	string	true	"Client ID"
//	@Success		204
//	@Failure		404	{object}	idsdk.OAuth2Error
//	@Failure		409	{object}	idsdk.OAuth2Error	"client_protected"
//	@Security		BearerAuth
//	@Router			/v1/clients/{id} [delete]
func (h *ClientsHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	c, ok := h.tenantClient(w, r)
	if !ok {
		return
	}
	if err := h.Clients.DeleteClient(r.Context(), c.ID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleRotateSecret godoc
//
//	@Summary		Issue a new client secret
//	@Description	The new secret is returned once. Existing secrets are removed unless keep_existing is set.
//	@Tags			Clients
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string						true	"Client ID"
//	@Param			body	body		idsdk.RotateSecretRequest	true	"Rotation options"
//	@Success		201		{object}	idsdk.CreatedClientResponse
//	@Failure		404		{object}	idsdk.OAuth2Error
//	@Security		BearerAuth
//	@Router			/v1/clients/{id}/secrets [post]
func (h *ClientsHandler) HandleRotateSecret(w http.ResponseWriter, r *http.Request) {
	var req idsdk.RotateSecretRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		idsdk.ErrInvalidBody.WriteError(w)
		return
	}
	c, ok := h.tenantClient(w, r)
	if !ok {
		return
	}

	created, err := h.Clients.RotateSecret(r.Context(), c.ID, req.ExpiresAt, req.KeepExisting)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, createdResponse(created))
}

// HandleRemoveSecret godoc
//
//	@Summary		Remove a client secret
//	@Tags			Clients
//	@Param			id	path	string	true	"Client ID"
//	@Param			sid	path	string	true	"Secret ID"
//	@Success		204
//	@Failure		404	{object}	idsdk.OAuth2Error
//	@Security		BearerAuth
//	@Router			/v1/clients/{id}/secrets/{sid} [delete]
func (h *ClientsHandler) HandleRemoveSecret(w http.ResponseWriter, r *http.Request) {
	c, ok := h.tenantClient(w, r)
	if !ok {
		return
	}
	if err := h.Clients.RemoveSecret(r.Context(), c.ID, r.PathValue("sid")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// tenantClient loads the {id} client; clients of other tenants are reported as not found.
func (h *ClientsHandler) tenantClient(w http.ResponseWriter, r *http.Request) (domain.Client, bool) {
	c, err := h.Clients.GetClient(r.Context(), r.PathValue("id"))
	if err == nil && c.TenantID != callerFromRequest(r).TenantID {
		err = domain.NotFound("client not found")
	}
	if err != nil {
		writeError(w, r, err)
		return domain.Client{}, false
	}
	return c, true
}

func clientResponse(c domain.Client) idsdk.Client {
	out := idsdk.Client{
		ID:          c.ID,
		Name:        c.Name,
		RedirectURI: c.RedirectURI,
		TenantID:    c.TenantID,
		Public:      c.IsPublic(),
		Protected:   c.Protected,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
	for _, s := range c.Secrets {
		out.Secrets = append(out.Secrets, idsdk.ClientSecret{
			ID:        s.ID,
			CreatedAt: s.CreatedAt,
			ExpiresAt: s.ExpiresAt,
		})
	}
	return out
}

func createdResponse(c service.CreatedClient) idsdk.CreatedClientResponse {
	return idsdk.CreatedClientResponse{
		Client:       clientResponse(c.Client),
		SecretID:     c.SecretID,
		ClientSecret: c.Secret,
	}
}
