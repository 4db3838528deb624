package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"pledgepool/native/oracle"
	"pledgepool/native/pledge"
	"pledgepool/native/router"
	"pledgepool/native/token"
	"pledgepool/storage"
)

const testAuthToken = "test-secret"

var (
	testAdmin  = common.HexToAddress("0xA1")
	testVault  = common.HexToAddress("0xA2")
	testRouter = common.HexToAddress("0xA3")
	testLender = common.HexToAddress("0xB1")

	testLendToken   = common.HexToAddress("0xC1")
	testBorrowToken = common.HexToAddress("0xC2")
	testSpToken     = common.HexToAddress("0xC3")
	testJpToken     = common.HexToAddress("0xC4")
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	registry := token.NewRegistry()
	owner := testAdmin
	for _, addr := range []common.Address{testLendToken, testBorrowToken, testSpToken, testJpToken} {
		tok := token.New(addr, owner, "Token", "TOK")
		registry.Register(tok)
		if err := tok.AddMinter(owner, testVault); err != nil {
			t.Fatalf("add vault minter: %v", err)
		}
		if err := tok.AddMinter(owner, owner); err != nil {
			t.Fatalf("add owner minter: %v", err)
		}
	}

	ora := oracle.New(testAdmin)
	engine := pledge.NewEngine(testVault, testAdmin)
	engine.SetState(pledge.NewStateStore(storage.NewMemDB()))
	engine.SetTokens(registry)
	engine.SetOracle(ora)
	engine.SetRouter(router.NewPairRouter(registry, testRouter))

	server := NewServer(engine, ora, registry, testAuthToken, nil)
	ts := httptest.NewServer(server.Router())
	t.Cleanup(ts.Close)
	return ts
}

func rpcCall(t *testing.T, ts *httptest.Server, bearer, method string, params interface{}) *RPCResponse {
	t.Helper()
	payload := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
	}
	if params != nil {
		payload["params"] = []interface{}{params}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, ts.URL, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	decoded := &RPCResponse{}
	if err := json.NewDecoder(resp.Body).Decode(decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return decoded
}

func createPoolParamsFixture() map[string]interface{} {
	return map[string]interface{}{
		"caller":                 testAdmin.Hex(),
		"settleTime":             1_700_003_600,
		"endTime":                1_702_595_600,
		"interestRate":           "1000000",
		"maxSupply":              "1000000000000000000000000",
		"mortgageRate":           "200000000",
		"autoLiquidateThreshold": "20000000",
		"lendToken":              testLendToken.Hex(),
		"borrowToken":            testBorrowToken.Hex(),
		"spToken":                testSpToken.Hex(),
		"jpToken":                testJpToken.Hex(),
	}
}

func TestUnknownMethod(t *testing.T) {
	ts := newTestServer(t)
	resp := rpcCall(t, ts, "", "pledge_bogus", nil)
	if resp.Error == nil || resp.Error.Code != codeMethodNotFound {
		t.Fatalf("expected method-not-found error, got %+v", resp.Error)
	}
}

func TestAdminMethodsRequireAuth(t *testing.T) {
	ts := newTestServer(t)
	resp := rpcCall(t, ts, "", "pledge_createPool", createPoolParamsFixture())
	if resp.Error == nil || resp.Error.Code != codeUnauthorized {
		t.Fatalf("expected unauthorized error, got %+v", resp.Error)
	}
	resp = rpcCall(t, ts, "wrong-token", "pledge_createPool", createPoolParamsFixture())
	if resp.Error == nil || resp.Error.Code != codeUnauthorized {
		t.Fatalf("expected unauthorized error for bad token, got %+v", resp.Error)
	}
}

func TestCreatePoolAndQuery(t *testing.T) {
	ts := newTestServer(t)
	resp := rpcCall(t, ts, testAuthToken, "pledge_createPool", createPoolParamsFixture())
	if resp.Error != nil {
		t.Fatalf("create pool failed: %+v", resp.Error)
	}
	created, ok := resp.Result.(map[string]interface{})
	if !ok || created["poolId"] != float64(0) {
		t.Fatalf("expected poolId 0, got %+v", resp.Result)
	}

	resp = rpcCall(t, ts, "", "pledge_poolLength", nil)
	if resp.Error != nil {
		t.Fatalf("pool length failed: %+v", resp.Error)
	}
	length, ok := resp.Result.(map[string]interface{})
	if !ok || length["length"] != float64(1) {
		t.Fatalf("expected length 1, got %+v", resp.Result)
	}

	resp = rpcCall(t, ts, "", "pledge_getPool", map[string]interface{}{"poolId": 0})
	if resp.Error != nil {
		t.Fatalf("get pool failed: %+v", resp.Error)
	}
	pool, ok := resp.Result.(map[string]interface{})
	if !ok || pool["state"] != "matching" {
		t.Fatalf("expected matching pool, got %+v", resp.Result)
	}
	if pool["mortgageRate"] != "200000000" {
		t.Fatalf("expected mortgage rate echoed, got %+v", pool["mortgageRate"])
	}

	resp = rpcCall(t, ts, "", "pledge_getPool", map[string]interface{}{"poolId": 9})
	if resp.Error == nil {
		t.Fatalf("expected error for unknown pool")
	}
}

func TestOraclePriceRoundTrip(t *testing.T) {
	ts := newTestServer(t)
	params := map[string]interface{}{
		"caller": testAdmin.Hex(),
		"asset":  testLendToken.Hex(),
		"price":  "100000000",
	}
	resp := rpcCall(t, ts, testAuthToken, "oracle_setPrice", params)
	if resp.Error != nil {
		t.Fatalf("set price failed: %+v", resp.Error)
	}
	resp = rpcCall(t, ts, "", "oracle_getPrice", map[string]interface{}{"asset": testLendToken.Hex()})
	if resp.Error != nil {
		t.Fatalf("get price failed: %+v", resp.Error)
	}
	result, ok := resp.Result.(map[string]interface{})
	if !ok || result["price"] != "100000000" {
		t.Fatalf("expected price echoed, got %+v", resp.Result)
	}
}

func TestTokenEndpoints(t *testing.T) {
	ts := newTestServer(t)
	mint := map[string]interface{}{
		"token":  testLendToken.Hex(),
		"caller": testAdmin.Hex(),
		"to":     testLender.Hex(),
		"amount": "500",
	}

	resp := rpcCall(t, ts, "", "token_mint", mint)
	if resp.Error == nil || resp.Error.Code != codeUnauthorized {
		t.Fatalf("expected unauthorized mint, got %+v", resp.Error)
	}
	resp = rpcCall(t, ts, testAuthToken, "token_mint", mint)
	if resp.Error != nil {
		t.Fatalf("mint failed: %+v", resp.Error)
	}

	resp = rpcCall(t, ts, "", "token_balanceOf", map[string]interface{}{
		"token":   testLendToken.Hex(),
		"address": testLender.Hex(),
	})
	if resp.Error != nil {
		t.Fatalf("balanceOf failed: %+v", resp.Error)
	}
	if result, ok := resp.Result.(map[string]interface{}); !ok || result["amount"] != "500" {
		t.Fatalf("expected balance 500, got %+v", resp.Result)
	}

	resp = rpcCall(t, ts, "", "token_approve", map[string]interface{}{
		"token":  testLendToken.Hex(),
		"caller": testLender.Hex(),
		"to":     testVault.Hex(),
		"amount": "200",
	})
	if resp.Error != nil {
		t.Fatalf("approve failed: %+v", resp.Error)
	}
	resp = rpcCall(t, ts, "", "token_allowance", map[string]interface{}{
		"token":   testLendToken.Hex(),
		"address": testLender.Hex(),
		"spender": testVault.Hex(),
	})
	if resp.Error != nil {
		t.Fatalf("allowance failed: %+v", resp.Error)
	}
	if result, ok := resp.Result.(map[string]interface{}); !ok || result["amount"] != "200" {
		t.Fatalf("expected allowance 200, got %+v", resp.Result)
	}

	resp = rpcCall(t, ts, "", "token_isMinter", map[string]interface{}{
		"token":   testLendToken.Hex(),
		"address": testVault.Hex(),
	})
	if resp.Error != nil {
		t.Fatalf("isMinter failed: %+v", resp.Error)
	}
	if result, ok := resp.Result.(map[string]interface{}); !ok || result["value"] != true {
		t.Fatalf("expected vault to be a minter, got %+v", resp.Result)
	}

	resp = rpcCall(t, ts, "", "token_transfer", map[string]interface{}{
		"token":  testLendToken.Hex(),
		"caller": testVault.Hex(),
		"to":     testLender.Hex(),
		"amount": "1",
	})
	if resp.Error == nil || resp.Error.Code != codeInvalidParams {
		t.Fatalf("expected insufficient-balance error, got %+v", resp.Error)
	}

	resp = rpcCall(t, ts, "", "token_balanceOf", map[string]interface{}{
		"token":   common.HexToAddress("0xDEAD").Hex(),
		"address": testLender.Hex(),
	})
	if resp.Error == nil {
		t.Fatalf("expected unknown-token error")
	}
}

func TestDepositReachableOverRPC(t *testing.T) {
	ts := newTestServer(t)
	now := time.Now().Unix()
	params := createPoolParamsFixture()
	params["settleTime"] = now + 3600
	params["endTime"] = now + 7200

	resp := rpcCall(t, ts, testAuthToken, "pledge_createPool", params)
	if resp.Error != nil {
		t.Fatalf("create pool failed: %+v", resp.Error)
	}

	resp = rpcCall(t, ts, testAuthToken, "token_mint", map[string]interface{}{
		"token":  testLendToken.Hex(),
		"caller": testAdmin.Hex(),
		"to":     testLender.Hex(),
		"amount": "1000",
	})
	if resp.Error != nil {
		t.Fatalf("mint failed: %+v", resp.Error)
	}
	resp = rpcCall(t, ts, "", "token_approve", map[string]interface{}{
		"token":  testLendToken.Hex(),
		"caller": testLender.Hex(),
		"to":     testVault.Hex(),
		"amount": "1000",
	})
	if resp.Error != nil {
		t.Fatalf("approve failed: %+v", resp.Error)
	}

	resp = rpcCall(t, ts, "", "pledge_depositLend", map[string]interface{}{
		"from":   testLender.Hex(),
		"poolId": 0,
		"amount": "1000",
	})
	if resp.Error != nil {
		t.Fatalf("deposit failed: %+v", resp.Error)
	}

	resp = rpcCall(t, ts, "", "token_balanceOf", map[string]interface{}{
		"token":   testLendToken.Hex(),
		"address": testVault.Hex(),
	})
	if resp.Error != nil {
		t.Fatalf("balanceOf failed: %+v", resp.Error)
	}
	if result, ok := resp.Result.(map[string]interface{}); !ok || result["amount"] != "1000" {
		t.Fatalf("expected vault to custody 1000, got %+v", resp.Result)
	}

	resp = rpcCall(t, ts, "", "pledge_getLendPosition", map[string]interface{}{
		"poolId":  0,
		"address": testLender.Hex(),
	})
	if resp.Error != nil {
		t.Fatalf("get position failed: %+v", resp.Error)
	}
	if result, ok := resp.Result.(map[string]interface{}); !ok || result["stakeAmount"] != "1000" {
		t.Fatalf("expected stake 1000, got %+v", resp.Result)
	}
}

func TestMalformedRequests(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Post(ts.URL, "application/json", bytes.NewReader([]byte("{not json")))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	decoded := &RPCResponse{}
	if err := json.NewDecoder(resp.Body).Decode(decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Error == nil || decoded.Error.Code != codeParseError {
		t.Fatalf("expected parse error, got %+v", decoded.Error)
	}

	body := []byte(`{"jsonrpc":"1.0","id":1,"method":"pledge_poolLength"}`)
	resp, err = http.Post(ts.URL, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	decoded = &RPCResponse{}
	if err := json.NewDecoder(resp.Body).Decode(decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Error == nil || decoded.Error.Code != codeInvalidRequest {
		t.Fatalf("expected invalid-request error, got %+v", decoded.Error)
	}
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(fmt.Sprintf("%s/healthz", ts.URL))
	if err != nil {
		t.Fatalf("get healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}
