// Package application contém os casos de uso do rate limit adaptativo:
// resolução de política, detecção de anomalia, decisão (Service.Evaluate),
// o reaper que limita a memória e o limite de concorrência.
//
// Ele depende apenas do pacote domain e não recebe nem escreve requests HTTP.
package application
