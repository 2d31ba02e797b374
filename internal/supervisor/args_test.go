package supervisor

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"
)

func encode(t *testing.T, json string) string {
	t.Helper()
	return base64.StdEncoding.EncodeToString([]byte(json))
}

func TestDecodeArgsRejectsBadBase64(t *testing.T) {
	_, err := DecodeArgs("not-base64!!")
	require.Error(t, err)
	require.Equal(t, LetArgumentsBase64, err.(*LetError).Kind)
}

func TestDecodeArgsRejectsBadJSON(t *testing.T) {
	_, err := DecodeArgs(encode(t, `{not json}`))
	require.Error(t, err)
	require.Equal(t, LetArgumentsJSON, err.(*LetError).Kind)
}

func TestBuildEnvScalar(t *testing.T) {
	args, err := DecodeArgs(encode(t, `{"name": "world", "count": 3, "ratio": 1.5, "ok": true}`))
	require.NoError(t, err)

	env, err := BuildEnv(args)
	require.NoError(t, err)
	require.Equal(t, "world", env["NAME"])
	require.Equal(t, "3", env["COUNT"])
	require.Equal(t, "1.5", env["RATIO"])
	require.Equal(t, "true", env["OK"])
}

func TestBuildEnvArray(t *testing.T) {
	args, err := DecodeArgs(encode(t, `{"items": ["a", "b", "c"]}`))
	require.NoError(t, err)

	env, err := BuildEnv(args)
	require.NoError(t, err)
	require.Equal(t, "3", env["ITEMS"])
	require.Equal(t, "a", env["ITEMS_0"])
	require.Equal(t, "b", env["ITEMS_1"])
	require.Equal(t, "c", env["ITEMS_2"])
}

func TestBuildEnvRejectsNestedArray(t *testing.T) {
	args, err := DecodeArgs(encode(t, `{"items": [["a"]]}`))
	require.NoError(t, err)

	_, err = BuildEnv(args)
	require.Error(t, err)
	require.Equal(t, LetUnsupportedType, err.(*LetError).Kind)
}

func TestBuildEnvStruct(t *testing.T) {
	args, err := DecodeArgs(encode(t, `{"person": {"name": "ada", "age": 30}}`))
	require.NoError(t, err)

	env, err := BuildEnv(args)
	require.NoError(t, err)
	require.Equal(t, "ada", env["PERSON_NAME"])
	require.Equal(t, "30", env["PERSON_AGE"])
}

func TestBuildEnvFlattensFileStruct(t *testing.T) {
	args, err := DecodeArgs(encode(t, `{"input": {"url": "https://example.com/in.csv"}}`))
	require.NoError(t, err)

	env, err := BuildEnv(args)
	require.NoError(t, err)
	require.Equal(t, "https://example.com/in.csv", env["INPUT_URL"])
}

func TestBuildEnvRejectsNestedStruct(t *testing.T) {
	args, err := DecodeArgs(encode(t, `{"outer": {"inner": {"x": 1}}}`))
	require.NoError(t, err)

	_, err = BuildEnv(args)
	require.Error(t, err)
	require.Equal(t, LetUnsupportedType, err.(*LetError).Kind)
}

func TestBuildEnvDetectsCollision(t *testing.T) {
	args, err := DecodeArgs(encode(t, `{"a_b": 1, "a": {"b": 2}}`))
	require.NoError(t, err)

	_, err = BuildEnv(args)
	require.Error(t, err)
	require.Equal(t, LetDuplicateArgument, err.(*LetError).Kind)
}
