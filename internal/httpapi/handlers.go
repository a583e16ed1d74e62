package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jaewoo-rain/webide-broker/internal/auth"
	apperrors "github.com/jaewoo-rain/webide-broker/internal/errors"
	"github.com/jaewoo-rain/webide-broker/internal/instances"
	"github.com/jaewoo-rain/webide-broker/internal/workspace"
)

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleMe(c *gin.Context) {
	principal := auth.FromContext(c)
	c.JSON(http.StatusOK, meResponse{Username: principal.Username, Role: string(principal.Role)})
}

func (s *Server) requestInfo(c *gin.Context) instances.RequestInfo {
	return instances.RequestInfo{
		Host:            c.Request.Host,
		XForwardedHost:  c.GetHeader("X-Forwarded-Host"),
		XForwardedProto: c.GetHeader("X-Forwarded-Proto"),
		URLScheme:       schemeOf(c),
		RemoteHost:      c.Request.RemoteAddr,
	}
}

func schemeOf(c *gin.Context) string {
	if c.Request.TLS != nil {
		return "https"
	}
	return "http"
}

func (s *Server) handleCreateContainer(c *gin.Context) {
	principal := auth.FromContext(c)
	token := auth.TokenFromContext(c)

	var req createContainerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apperrors.Invalid("malformed request body").ToResponse())
		return
	}

	rec, aerr := s.manager.Provision(c.Request.Context(), principal, token, req.Image, req.ProjectName, req.Env)
	if aerr != nil {
		c.JSON(aerr.StatusCode, aerr.ToResponse())
		return
	}

	urls := instances.BuildAccessUrls(s.requestInfo(c), rec.ID, rec.Port, s.vncPassword)

	c.JSON(http.StatusOK, createContainerResponse{
		ID: rec.ID, Name: rec.Name, Image: rec.Image, Owner: rec.Owner,
		Role: string(rec.Role), LimitedByQuota: rec.LimitedByQuota, ProjectName: rec.ProjectName,
		VncURL: urls.VncURL, WsURL: urls.WsURL, Port: rec.Port,
	})
}

func (s *Server) handleListContainers(c *gin.Context) {
	token := auth.TokenFromContext(c)
	records, aerr := s.manager.List(c.Request.Context(), token)
	if aerr != nil {
		c.JSON(aerr.StatusCode, aerr.ToResponse())
		return
	}
	c.JSON(http.StatusOK, records)
}

func (s *Server) handleGetContainer(c *gin.Context) {
	token := auth.TokenFromContext(c)
	id := c.Param("id")

	records, aerr := s.manager.List(c.Request.Context(), token)
	if aerr != nil {
		c.JSON(aerr.StatusCode, aerr.ToResponse())
		return
	}
	for _, rec := range records {
		if rec.ContainerID == id {
			c.JSON(http.StatusOK, rec)
			return
		}
	}
	notFound := apperrors.NotFound("container")
	c.JSON(notFound.StatusCode, notFound.ToResponse())
}

func (s *Server) handleContainerUrls(c *gin.Context) {
	token := auth.TokenFromContext(c)
	id := c.Param("id")

	records, aerr := s.manager.List(c.Request.Context(), token)
	if aerr != nil {
		c.JSON(aerr.StatusCode, aerr.ToResponse())
		return
	}

	var port int
	found := false
	for _, rec := range records {
		if rec.ContainerID == id {
			port = rec.Port
			found = true
			break
		}
	}
	if !found {
		notFound := apperrors.NotFound("container")
		c.JSON(notFound.StatusCode, notFound.ToResponse())
		return
	}
	if port == 0 {
		c.JSON(http.StatusConflict, apperrors.NoExternalPort().ToResponse())
		return
	}

	urls := instances.BuildAccessUrls(s.requestInfo(c), id, port, s.vncPassword)
	c.JSON(http.StatusOK, containerUrlsResponse{Cid: id, WsURL: urls.WsURL, VncURL: urls.VncURL})
}

func (s *Server) handleDeleteContainer(c *gin.Context) {
	principal := auth.FromContext(c)
	token := auth.TokenFromContext(c)
	id := c.Param("id")

	if aerr := s.manager.Teardown(c.Request.Context(), token, id, principal.Username); aerr != nil {
		c.JSON(aerr.StatusCode, aerr.ToResponse())
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleRenameContainer(c *gin.Context) {
	principal := auth.FromContext(c)
	token := auth.TokenFromContext(c)
	id := c.Param("id")

	var req renameContainerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apperrors.Invalid("malformed request body").ToResponse())
		return
	}

	if aerr := s.manager.Rename(c.Request.Context(), token, id, principal.Username, req.ProjectName); aerr != nil {
		c.JSON(aerr.StatusCode, aerr.ToResponse())
		return
	}
	c.JSON(http.StatusOK, messageResponse{Message: "Updated"})
}

func (s *Server) handleGetFiles(c *gin.Context) {
	id := c.Param("id")

	instance, aerr := s.manager.Resolve(c.Request.Context(), id)
	if aerr != nil {
		c.JSON(aerr.StatusCode, aerr.ToResponse())
		return
	}

	tree, fileMap, err := s.materializer.Scan(c.Request.Context(), instance)
	if err != nil {
		internal := apperrors.Wrap(apperrors.CodeInternal, "failed to read workspace", err)
		c.JSON(internal.StatusCode, internal.ToResponse())
		return
	}

	c.JSON(http.StatusOK, fileStructureResponse{Tree: fromDomainTree(tree), FileMap: fromDomainFileMap(fileMap)})
}

func (s *Server) handleSave(c *gin.Context) {
	var req codeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apperrors.Invalid("malformed request body").ToResponse())
		return
	}

	instance, aerr := s.manager.Resolve(c.Request.Context(), req.ContainerID)
	if aerr != nil {
		c.JSON(aerr.StatusCode, aerr.ToResponse())
		return
	}

	tree := toDomainTree(req.Tree)
	fileMap := toDomainFileMap(req.FileMap)

	if aerr := s.coordinator.Save(c.Request.Context(), instance, tree, fileMap, workspace.Preserve); aerr != nil {
		c.JSON(aerr.StatusCode, aerr.ToResponse())
		return
	}
	c.JSON(http.StatusOK, messageResponse{Message: "Saved"})
}

func (s *Server) handleRun(c *gin.Context) {
	var req codeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apperrors.Invalid("malformed request body").ToResponse())
		return
	}

	instance, aerr := s.manager.Resolve(c.Request.Context(), req.ContainerID)
	if aerr != nil {
		c.JSON(aerr.StatusCode, aerr.ToResponse())
		return
	}

	policy := workspace.Preserve
	if req.PurgeWorkspace {
		policy = workspace.Purge
	}

	tree := toDomainTree(req.Tree)
	fileMap := toDomainFileMap(req.FileMap)

	mode, aerr := s.coordinator.Run(c.Request.Context(), instance, req.SessionID, tree, fileMap, req.RunCode, policy)
	if aerr != nil {
		c.JSON(aerr.StatusCode, aerr.ToResponse())
		return
	}
	c.JSON(http.StatusOK, runResponse{Mode: string(mode)})
}

func (s *Server) handleRenameFile(c *gin.Context) {
	id := c.Param("id")

	var req renameFileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apperrors.Invalid("malformed request body").ToResponse())
		return
	}
	if req.OldPath == "" || req.NewName == "" || containsSlash(req.NewName) {
		invalid := apperrors.Invalid("old_path and a slash-free new_name are required")
		c.JSON(invalid.StatusCode, invalid.ToResponse())
		return
	}

	instance, aerr := s.manager.Resolve(c.Request.Context(), id)
	if aerr != nil {
		c.JSON(aerr.StatusCode, aerr.ToResponse())
		return
	}

	newPath := renamedPath(req.OldPath, req.NewName)
	if _, err := s.adapter.Exec(c.Request.Context(), instance, []string{"mv", req.OldPath, newPath}, execOptionsDefault()); err != nil {
		internal := apperrors.Wrap(apperrors.CodeInternal, "failed to rename file", err)
		c.JSON(internal.StatusCode, internal.ToResponse())
		return
	}

	c.JSON(http.StatusOK, renameFileResponse{Message: "Rename successful", NewPath: newPath})
}

func (s *Server) handleDeleteFile(c *gin.Context) {
	id := c.Param("id")

	var req deleteFileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apperrors.Invalid("malformed request body").ToResponse())
		return
	}
	if req.FilePath == "" {
		invalid := apperrors.Invalid("file_path is required")
		c.JSON(invalid.StatusCode, invalid.ToResponse())
		return
	}

	instance, aerr := s.manager.Resolve(c.Request.Context(), id)
	if aerr != nil {
		c.JSON(aerr.StatusCode, aerr.ToResponse())
		return
	}

	if _, err := s.adapter.Exec(c.Request.Context(), instance, []string{"rm", "-rf", req.FilePath}, execOptionsDefault()); err != nil {
		internal := apperrors.Wrap(apperrors.CodeInternal, "failed to delete file", err)
		c.JSON(internal.StatusCode, internal.ToResponse())
		return
	}

	c.JSON(http.StatusOK, messageResponse{Message: "Deleted"})
}
