package cache

import "fmt"

func BurstKey(clientIP string) string {
	return fmt.Sprintf("burst:%s", clientIP)
}

func URLScanKey(urlHash string) string {
	return fmt.Sprintf("scan:url:%s", urlHash)
}

func AdminGateKey(clientIP string) string {
	return fmt.Sprintf("admingate:%s", clientIP)
}
