package token

// ParseJWTFunc 測試時可被替換
var ParseJWTFunc = ParseJWT

// ParseJWTWrapper middleware 經由這層驗證 token
func ParseJWTWrapper(t string) (*Claims, error) {
	return ParseJWTFunc(t)
}
