package pkg

// Contains 檢查 slice 是否包含 val
func Contains(slice []string, val string) bool {
	for _, v := range slice {
		if v == val {
			return true
		}
	}
	return false
}
