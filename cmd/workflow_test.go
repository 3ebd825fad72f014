//go:build !integration

package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/farmdata-cli/internal/credential"
	"github.com/sells-group/farmdata-cli/internal/model"
	"github.com/sells-group/farmdata-cli/pkg/farmdata"
)

func TestLoginCmd_PersistsToken(t *testing.T) {
	newTestEnv(t)

	out, err := execute(t, loginCmd, nil, map[string]string{"username": testUser, "password": testPassword})
	require.NoError(t, err)
	assert.Equal(t, "Authenticated as grower\n", out)

	creds, err := credential.NewFileStore(cfg.Auth.CredentialsPath)
	require.NoError(t, err)
	token, err := creds.Load(credential.TokenKey)
	require.NoError(t, err)
	assert.Equal(t, testToken, token)
}

func TestLoginCmd_FallsBackToConfig(t *testing.T) {
	newTestEnv(t)
	cfg.Auth.Username = testUser
	cfg.Auth.Password = testPassword

	out, err := execute(t, loginCmd, nil, nil)
	require.NoError(t, err)
	assert.Contains(t, out, "Authenticated as grower")
}

func TestLoginCmd_MissingCredentials(t *testing.T) {
	newTestEnv(t)

	_, err := execute(t, loginCmd, nil, map[string]string{"username": testUser})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "username and password are required")
}

func TestLoginCmd_Rejected(t *testing.T) {
	newTestEnv(t)

	_, err := execute(t, loginCmd, nil, map[string]string{"username": testUser, "password": "nope"})
	require.Error(t, err)
	assert.Equal(t, "Authentication failed: Incorrect username or password", err.Error())
}

func TestSubmitCmd_RequiresLogin(t *testing.T) {
	api, _ := newTestEnv(t)

	_, err := execute(t, submitCmd, nil, map[string]string{"sample": "true"})
	require.Error(t, err)
	assert.Equal(t, "Upload failed: not authenticated", err.Error())
	assert.Zero(t, api.uploads)
}

func TestSubmitCmd_RecordsHistory(t *testing.T) {
	api, _ := newTestEnv(t)
	login(t)

	out := submitSample(t)
	assert.Equal(t, "Request ID: req-1\n", out)
	assert.Equal(t, "gls-1", api.lastGLS)

	sub, err := openTestStore(t).GetSubmission(context.Background(), "req-1")
	require.NoError(t, err)
	assert.Equal(t, "cust-1", sub.CustomerID)
	assert.Equal(t, model.StatusSubmitted, sub.Status)
	assert.Equal(t, farmdata.DefaultCriteria(), sub.Criteria)
}

func TestSubmitCmd_CriteriaFile(t *testing.T) {
	api, dir := newTestEnv(t)
	login(t)

	path := filepath.Join(dir, "criteria.yaml")
	require.NoError(t, os.WriteFile(path, []byte("geo:\n  STATE: IA\ncrops:\n  CORNF: true\n"), 0o644))

	out, err := execute(t, submitCmd, nil, map[string]string{"criteria": path, "gls": "gls-9"})
	require.NoError(t, err)
	assert.Contains(t, out, "req-1")
	assert.Equal(t, "gls-9", api.lastGLS)

	var sent map[string]map[string]any
	require.NoError(t, json.Unmarshal(api.lastBody, &sent))
	assert.Equal(t, "IA", sent["geo"]["STATE"])
	assert.Equal(t, true, sent["crops"]["CORNF"])
}

func TestSubmitCmd_InvalidCriteriaFile(t *testing.T) {
	api, dir := newTestEnv(t)
	login(t)

	path := filepath.Join(dir, "criteria.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"geo":{"STATE":"Illinois"}}`), 0o644))

	_, err := execute(t, submitCmd, nil, map[string]string{"criteria": path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "geo.STATE")
	assert.Zero(t, api.uploads)
}

func TestSubmitCmd_NoCriteria(t *testing.T) {
	newTestEnv(t)

	_, err := execute(t, submitCmd, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a criteria file is required")
}

func TestStatusCmd_NoRequest(t *testing.T) {
	newTestEnv(t)
	login(t)

	out, err := execute(t, statusCmd, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "No request submitted.\n", out)
}

func TestStatusCmd_PrintsAndRecords(t *testing.T) {
	api, _ := newTestEnv(t)
	login(t)
	submitSample(t)
	api.setStatuses("processing")

	out, err := execute(t, statusCmd, nil, nil)
	require.NoError(t, err)
	assert.Contains(t, out, "Request:  req-1")
	assert.Contains(t, out, "Status:   Processing")
	assert.Contains(t, out, "Download: no")

	sub, err := openTestStore(t).GetSubmission(context.Background(), "req-1")
	require.NoError(t, err)
	assert.Equal(t, "processing", sub.Status)
	assert.Equal(t, "request processing", sub.Message)
}

func TestStatusCmd_Wait(t *testing.T) {
	api, _ := newTestEnv(t)
	login(t)
	submitSample(t)
	api.setStatuses("processing", "completed")

	out, err := execute(t, statusCmd, nil, map[string]string{"wait": "true"})
	require.NoError(t, err)
	assert.Contains(t, out, "Status:   Completed")
	assert.Contains(t, out, "Download: yes")
	assert.Equal(t, 2, api.checkCount("req-1"))
}

func TestStatusCmd_WaitHalted(t *testing.T) {
	api, _ := newTestEnv(t)
	login(t)
	submitSample(t)
	api.setStatuses("hold")

	out, err := execute(t, statusCmd, nil, map[string]string{"wait": "true"})
	require.Error(t, err)
	assert.True(t, isHalted(err))
	assert.Contains(t, out, "Status:   Hold")
}

func TestStatusCmd_SurvivesAcrossInvocations(t *testing.T) {
	api, _ := newTestEnv(t)
	login(t)
	submitSample(t)
	submitSample(t)
	api.setStatuses("completed")

	_, err := execute(t, statusCmd, nil, nil)
	require.NoError(t, err)
	assert.Zero(t, api.checkCount("req-1"))
	assert.Equal(t, 1, api.checkCount("req-2"))
}

func TestResultCmd_SavesJSON(t *testing.T) {
	api, dir := newTestEnv(t)
	login(t)
	submitSample(t)
	api.setPayload(`[{"farm":"North 40","acres":120}]`)

	out, err := execute(t, resultCmd, nil, nil)
	require.NoError(t, err)

	want := filepath.Join(dir, "response_req-1.json")
	assert.Equal(t, "Saved response to "+want+"\n", out)

	data, err := os.ReadFile(want)
	require.NoError(t, err)
	assert.Contains(t, string(data), "\n    {\n        \"farm\": \"North 40\"")

	sub, err := openTestStore(t).GetSubmission(context.Background(), "req-1")
	require.NoError(t, err)
	assert.JSONEq(t, `[{"farm":"North 40","acres":120}]`, string(sub.Result))
}

func TestResultCmd_CSVOut(t *testing.T) {
	_, dir := newTestEnv(t)
	login(t)
	submitSample(t)

	path := filepath.Join(dir, "exports", "farms.csv")
	_, err := execute(t, resultCmd, nil, map[string]string{"format": "csv", "out": path})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "acres,farm\n120,North 40\n", string(data))
}

func TestResultCmd_ContentError(t *testing.T) {
	api, dir := newTestEnv(t)
	login(t)
	submitSample(t)
	api.setPayload(`{"error":"Request is still processing","status":"pending"}`)

	_, err := execute(t, resultCmd, nil, nil)
	require.Error(t, err)
	assert.Equal(t, "Request is still processing", err.Error())
	assert.NoFileExists(t, filepath.Join(dir, "response_req-1.json"))

	sub, err := openTestStore(t).GetSubmission(context.Background(), "req-1")
	require.NoError(t, err)
	assert.Equal(t, "Request is still processing", sub.ResultError)
	assert.Empty(t, sub.Result)
}

func TestResultCmd_ContentErrorMessage(t *testing.T) {
	api, _ := newTestEnv(t)
	login(t)
	submitSample(t)
	api.setPayload(`{"status":"error","error":"No farms matched","message":"Please contact support"}`)

	out, err := execute(t, resultCmd, nil, nil)
	require.Error(t, err)
	assert.Equal(t, "No farms matched", err.Error())
	assert.Equal(t, "Message: Please contact support\n", out)

	sub, err := openTestStore(t).GetSubmission(context.Background(), "req-1")
	require.NoError(t, err)
	assert.Equal(t, "No farms matched - Please contact support", sub.ResultError)
}

func TestRunCmd_ContentErrorMessage(t *testing.T) {
	api, _ := newTestEnv(t)
	login(t)
	api.setStatuses("completed")
	api.setPayload(`{"status":"error","error":"No farms matched","message":"Please contact support"}`)

	out, err := execute(t, runCmd, nil, map[string]string{"sample": "true"})
	require.Error(t, err)
	assert.Equal(t, "No farms matched", err.Error())
	assert.Contains(t, out, "Message: Please contact support\n")
	assert.NotContains(t, out, "Complete response saved")
}

func TestResultCmd_BadFormat(t *testing.T) {
	newTestEnv(t)

	_, err := execute(t, resultCmd, nil, map[string]string{"format": "pdf"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported format")
}

func TestRunCmd_Workflow(t *testing.T) {
	api, dir := newTestEnv(t)
	api.setStatuses("completed")

	out, err := execute(t, runCmd, nil, map[string]string{
		"username": testUser,
		"password": testPassword,
		"sample":   "true",
	})
	require.NoError(t, err)

	for _, line := range []string{
		"Authenticating...",
		"Authentication successful!",
		"Upload successful! Request ID: req-1",
		"Current status: Completed - request completed",
		"Complete response saved to " + filepath.Join(dir, "response_req-1.json"),
	} {
		assert.Contains(t, out, line)
	}
	assert.FileExists(t, filepath.Join(dir, "response_req-1.json"))
}

func TestRunCmd_ReusesStoredToken(t *testing.T) {
	api, _ := newTestEnv(t)
	login(t)
	api.setStatuses("completed")

	out, err := execute(t, runCmd, nil, map[string]string{"sample": "true", "format": "xlsx"})
	require.NoError(t, err)
	assert.NotContains(t, out, "Authenticating...")
	assert.Contains(t, out, "response_req-1.xlsx")
}

func TestRunCmd_Halted(t *testing.T) {
	api, dir := newTestEnv(t)
	login(t)
	api.setStatuses("error")

	out, err := execute(t, runCmd, nil, map[string]string{"sample": "true"})
	require.Error(t, err)
	assert.Contains(t, out, "Request cannot be processed. Please contact support.")
	assert.NoFileExists(t, filepath.Join(dir, "response_req-1.json"))
}

func TestRunCmd_NoCredentials(t *testing.T) {
	api, _ := newTestEnv(t)

	_, err := execute(t, runCmd, nil, map[string]string{"sample": "true"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not logged in")
	assert.Zero(t, api.uploads)
}

func TestSessionCmd_PrintsSnapshot(t *testing.T) {
	newTestEnv(t)
	login(t)
	submitSample(t)

	out, err := execute(t, sessionCmd, nil, nil)
	require.NoError(t, err)

	var snap map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &snap))
	assert.Equal(t, "submitted", snap["state"])
	assert.Equal(t, "req-1", snap["request_id"])
	assert.Equal(t, false, snap["busy"])
}

func TestLogoutCmd_KeepsRequest(t *testing.T) {
	newTestEnv(t)
	login(t)
	submitSample(t)

	out, err := execute(t, logoutCmd, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "Logged out.\n", out)

	out, err = execute(t, sessionCmd, nil, nil)
	require.NoError(t, err)
	assert.Contains(t, out, `"state": "unauthenticated"`)
	assert.Contains(t, out, `"request_id": "req-1"`)
}

func TestStatusLabel(t *testing.T) {
	assert.Equal(t, "Completed", statusLabel("completed"))
	assert.Equal(t, "On Hold", statusLabel("on hold"))
	assert.Equal(t, "Unknown", statusLabel(""))
}
