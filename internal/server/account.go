package server

import (
	"net/http"

	"accounts-service/internal/domain"
	"accounts-service/internal/service"

	"github.com/labstack/echo/v4"
)

type accountServer struct {
	accountService service.AccountServiceInterface
}

func NewAccountServer(accountService service.AccountServiceInterface) *accountServer {
	return &accountServer{
		accountService: accountService,
	}
}

func accountResponses(accounts []domain.Account) []domain.AccountResponse {
	out := make([]domain.AccountResponse, 0, len(accounts))
	for i := range accounts {
		out = append(out, accounts[i].Response())
	}
	return out
}

func (s *accountServer) CreateAccount(c echo.Context) error {
	var req domain.CreateAccountRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "invalid request body",
		})
	}

	account, err := s.accountService.CreateAccount(c.Request().Context(), req)
	if err != nil {
		return errorResponse(c, err)
	}

	return c.JSON(http.StatusCreated, account.Response())
}

func (s *accountServer) GetAccount(c echo.Context) error {
	account, err := s.accountService.GetAccount(c.Request().Context(), c.Param("id"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, account.Response())
}

func (s *accountServer) ListAccounts(c echo.Context) error {
	limit, offset := paging(c)

	accounts, err := s.accountService.ListAccounts(c.Request().Context(), limit, offset)
	if err != nil {
		return errorResponse(c, err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"contas": accountResponses(accounts),
		"limit":  limit,
		"offset": offset,
	})
}

func (s *accountServer) ListAccountsByUser(c echo.Context) error {
	limit, offset := paging(c)

	accounts, err := s.accountService.ListAccountsByUser(c.Request().Context(), c.Param("usuarioId"), limit, offset)
	if err != nil {
		return errorResponse(c, err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"contas": accountResponses(accounts),
		"limit":  limit,
		"offset": offset,
	})
}

func (s *accountServer) UpdateAccount(c echo.Context) error {
	var req domain.UpdateAccountRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "invalid request body",
		})
	}

	account, err := s.accountService.UpdateAccount(c.Request().Context(), c.Param("id"), req)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, account.Response())
}

func (s *accountServer) UpdateBalance(c echo.Context) error {
	var req domain.UpdateBalanceRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "invalid request body",
		})
	}

	account, err := s.accountService.UpdateBalance(c.Request().Context(), c.Param("id"), req)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, account.Response())
}

func (s *accountServer) Transfer(c echo.Context) error {
	var req domain.TransferRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "invalid request body",
		})
	}

	source, destination, err := s.accountService.Transfer(c.Request().Context(), req)
	if err != nil {
		return errorResponse(c, err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"contaOrigem":  source.Response(),
		"contaDestino": destination.Response(),
		"valor":        req.Amount,
	})
}

func (s *accountServer) DeleteAccount(c echo.Context) error {
	if err := s.accountService.DeleteAccount(c.Request().Context(), c.Param("id")); err != nil {
		return errorResponse(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
