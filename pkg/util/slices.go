package utils

func Contains[T comparable](v T, list []T) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
