package connectivity

import "fmt"

func topicGet(shadowName string) string {
	return fmt.Sprintf("$aws/things/%s/shadow/get", shadowName)
}

func topicGetAccepted(shadowName string) string {
	return fmt.Sprintf("$aws/things/%s/shadow/get/accepted", shadowName)
}

func topicGetRejected(shadowName string) string {
	return fmt.Sprintf("$aws/things/%s/shadow/get/rejected", shadowName)
}

func topicUpdate(shadowName string) string {
	return fmt.Sprintf("$aws/things/%s/shadow/update", shadowName)
}

func topicUpdateDelta(shadowName string) string {
	return fmt.Sprintf("$aws/things/%s/shadow/update/delta", shadowName)
}
